package state

import (
	"sync"

	e "nuclight.org/gatekeeper/pkg/entities"
)

// PendingSet is a set of members. Every operation is atomic on its own, so
// Add doubles as a try-acquire.
type PendingSet struct {
	mu    sync.Mutex
	items map[e.MemberKey]struct{}
}

func NewPendingSet() *PendingSet {
	return &PendingSet{items: make(map[e.MemberKey]struct{})}
}

// Add inserts key and reports whether it was absent.
func (s *PendingSet) Add(key e.MemberKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

// Remove deletes key and reports whether it was present.
func (s *PendingSet) Remove(key e.MemberKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

func (s *PendingSet) Has(key e.MemberKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

func (s *PendingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
