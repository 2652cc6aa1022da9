package session

import (
	"slices"
	"time"

	"github.com/DoyleJ11/tablesync/internal/protocol"
)

type participant struct {
	id       string
	isFirst  bool
	isAuthed bool
	lastSeen time.Time
	outbox   chan protocol.ServerMessage
}

// roster is the connection registry of one session. Only the session loop
// touches it.
type roster struct {
	byID  map[string]*participant
	order []string // join order, so broadcasts are deterministic
}

func newRoster() *roster {
	return &roster{byID: map[string]*participant{}}
}

func (r *roster) len() int { return len(r.order) }

func (r *roster) get(id string) (*participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

func (r *roster) add(p *participant) {
	r.byID[p.id] = p
	r.order = append(r.order, p.id)
}

func (r *roster) remove(id string) (*participant, bool) {
	p, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return p, true
}

// list returns a copy so callers may remove while iterating.
func (r *roster) list() []*participant {
	out := make([]*participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// stale returns the ids not seen for longer than deadAfter.
func (r *roster) stale(now time.Time, deadAfter time.Duration) []string {
	var ids []string
	for _, id := range r.order {
		if now.Sub(r.byID[id].lastSeen) > deadAfter {
			ids = append(ids, id)
		}
	}
	return ids
}

// deliver never blocks the session; false means the outbox is full.
func deliver(p *participant, msg protocol.ServerMessage) bool {
	select {
	case p.outbox <- msg:
		return true
	default:
		return false
	}
}
