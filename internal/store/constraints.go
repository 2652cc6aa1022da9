package store

import "sort"

// Reserved groups whose entries configure the store itself.
const (
	GroupUnique    = "unique"
	GroupPerPlayer = "perPlayer"
)

// Constraints is the materialized view of the unique and perPlayer groups.
// It is only ever written by the Store that owns it.
type Constraints struct {
	unique    map[string]string
	perPlayer map[string]bool
}

func newConstraints() *Constraints {
	return &Constraints{
		unique:    map[string]string{},
		perPlayer: map[string]bool{},
	}
}

// UniqueFieldOf reports the field that must be distinct across keys of group.
func (c *Constraints) UniqueFieldOf(group string) (string, bool) {
	f, ok := c.unique[group]
	return f, ok
}

func (c *Constraints) IsPerPlayer(group string) bool {
	return c.perPlayer[group]
}

// PerPlayerGroups returns the declared perPlayer groups in sorted order.
func (c *Constraints) PerPlayerGroups() []string {
	groups := make([]string, 0, len(c.perPlayer))
	for g := range c.perPlayer {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// observe updates the view after e landed in the store.
func (c *Constraints) observe(e Entry) {
	switch e.Group {
	case GroupUnique:
		if field, ok := e.Value.(string); ok {
			c.unique[e.Key] = field
		} else {
			delete(c.unique, e.Key)
		}
	case GroupPerPlayer:
		if on, _ := e.Value.(bool); on {
			c.perPlayer[e.Key] = true
		} else {
			delete(c.perPlayer, e.Key)
		}
	}
}

func (c *Constraints) reset() {
	clear(c.unique)
	clear(c.perPlayer)
}
