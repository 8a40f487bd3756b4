package webhook

import "sync"

const DefaultCapacity = 1000

// EventSet remembers processed provider event IDs in insertion order.
// When full, the oldest half is dropped before a new ID goes in.
type EventSet struct {
	mu       sync.Mutex
	capacity int
	order    []string
	seen     map[string]struct{}
}

func NewEventSet(capacity int) *EventSet {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &EventSet{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

func (s *EventSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// Add records id and reports whether it was new.
func (s *EventSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}

	if len(s.order) >= s.capacity {
		drop := len(s.order) / 2
		for _, old := range s.order[:drop] {
			delete(s.seen, old)
		}
		kept := make([]string, len(s.order)-drop, s.capacity)
		copy(kept, s.order[drop:])
		s.order = kept
	}

	s.order = append(s.order, id)
	s.seen[id] = struct{}{}
	return true
}

func (s *EventSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
