package store

import (
	"bytes"
	"container/list"
	"encoding/json"
	"errors"
)

var ErrDuplicateValue = errors.New("duplicate unique field value")

// Entry is one (group, key) -> value triple. A nil Value is a tombstone.
type Entry struct {
	Group string
	Key   string
	Value any
}

func (e Entry) IsTombstone() bool { return e.Value == nil }

// Check vets an entry before the store's own rules run. A non-nil error
// rejects the entry.
type Check func(Entry) error

type slot struct {
	group, key string
}

// Store is the authoritative entry table of one session. It is not safe for
// concurrent use; the owning session serializes all calls.
type Store struct {
	order       *list.List // of *Entry, insertion order
	index       map[slot]*list.Element
	groups      map[string]map[string]*list.Element
	constraints *Constraints
}

func New() *Store {
	return &Store{
		order:       list.New(),
		index:       map[slot]*list.Element{},
		groups:      map[string]map[string]*list.Element{},
		constraints: newConstraints(),
	}
}

func (s *Store) Constraints() *Constraints { return s.constraints }

func (s *Store) Len() int { return s.order.Len() }

// Get returns the live value of (group, key).
func (s *Store) Get(group, key string) (any, bool) {
	el, ok := s.index[slot{group, key}]
	if !ok {
		return nil, false
	}
	return el.Value.(*Entry).Value, true
}

// Keys lists the live keys of group in insertion order.
func (s *Store) Keys(group string) []string {
	keys := make([]string, 0, len(s.groups[group]))
	for el := s.order.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*Entry); e.Group == group {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Apply validates and applies a single entry. Tombstones are always
// accepted; a value is rejected with ErrDuplicateValue when the group's unique
// field collides with another live key.
func (s *Store) Apply(e Entry) error {
	if e.IsTombstone() {
		s.remove(e.Group, e.Key)
		s.constraints.observe(e)
		return nil
	}

	if field, ok := s.constraints.UniqueFieldOf(e.Group); ok {
		if v, present := fieldOf(e.Value, field); present {
			for key, el := range s.groups[e.Group] {
				if key == e.Key {
					continue
				}
				if other, ok := fieldOf(el.Value.(*Entry).Value, field); ok && sameValue(v, other) {
					return ErrDuplicateValue
				}
			}
		}
	}

	s.put(e)
	s.constraints.observe(e)
	return nil
}

// ApplyBatch applies entries in order. Each entry stands alone: a rejected
// entry does not block the ones after it.
func (s *Store) ApplyBatch(entries []Entry, checks ...Check) (accepted []Entry, anyRejected bool) {
	accepted = make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := s.applyChecked(e, checks); err != nil {
			anyRejected = true
			continue
		}
		accepted = append(accepted, e)
	}
	return accepted, anyRejected
}

func (s *Store) applyChecked(e Entry, checks []Check) error {
	for _, check := range checks {
		if err := check(e); err != nil {
			return err
		}
	}
	return s.Apply(e)
}

// Snapshot returns every live entry in insertion order.
func (s *Store) Snapshot() []Entry {
	out := make([]Entry, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}

// Restore replaces the whole table with entries and rebuilds the
// constraints from them. Tombstones in entries are skipped.
func (s *Store) Restore(entries []Entry) {
	s.order.Init()
	clear(s.index)
	clear(s.groups)
	s.constraints.reset()
	for _, e := range entries {
		if e.IsTombstone() {
			continue
		}
		s.put(e)
		s.constraints.observe(e)
	}
}

func (s *Store) put(e Entry) {
	k := slot{e.Group, e.Key}
	if el, ok := s.index[k]; ok {
		el.Value.(*Entry).Value = e.Value
		return
	}
	stored := e
	el := s.order.PushBack(&stored)
	s.index[k] = el
	keys := s.groups[e.Group]
	if keys == nil {
		keys = map[string]*list.Element{}
		s.groups[e.Group] = keys
	}
	keys[e.Key] = el
}

func (s *Store) remove(group, key string) {
	k := slot{group, key}
	el, ok := s.index[k]
	if !ok {
		return
	}
	s.order.Remove(el)
	delete(s.index, k)
	keys := s.groups[group]
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.groups, group)
	}
}

// fieldOf reads value[field] when value is a JSON object. A null field
// counts as absent.
func fieldOf(value any, field string) (any, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// sameValue compares two JSON-like values by their canonical encoding, so
// 1 and 1.0 compare equal and object key order does not matter.
func sameValue(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
