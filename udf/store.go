// Package udf assigns small integer handles to host-side callback objects so
// they can be passed through the sandbox as opaque user data.
package udf

import "sync"

// minCapacity is the initial size of the slot table.
const minCapacity = 8

// Handle identifies a registered object. Handles are 1-based: 0 means "no
// object" and is never returned by Register.
type Handle = uint32

type slot[T any] struct {
	name  string
	value T
	used  bool
}

// Store is a slot table with a free list. Released slots are reused before the
// table grows, and the table only grows (by doubling).
//
// Unlike a bare slot table, Get and Free are checked: a handle that is not
// currently registered is reported instead of corrupting another slot.
type Store[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	count int // high-water mark
	free  []int
	names map[string]Handle
}

// NewStore creates an empty store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{
		slots: make([]slot[T], minCapacity),
		names: make(map[string]Handle),
	}
}

// Register stores v under name and returns its handle. A previous mapping for
// name is replaced; the object it pointed to stays registered until freed by
// handle. An empty name is not recorded.
func (s *Store[T]) Register(name string, v T) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = s.count
		s.count++
		if s.count == len(s.slots) {
			grown := make([]slot[T], len(s.slots)<<1)
			copy(grown, s.slots)
			s.slots = grown
		}
	}

	s.slots[idx] = slot[T]{name: name, value: v, used: true}
	h := Handle(idx + 1)
	if name != "" {
		s.names[name] = h
	}
	return h
}

// Get returns the object registered under h.
func (s *Store[T]) Get(h Handle) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := int(h) - 1
	if idx < 0 || idx >= s.count || !s.slots[idx].used {
		var zero T
		return zero, false
	}
	return s.slots[idx].value, true
}

// Free releases h and returns its slot to the free list. It reports false if h
// was not registered.
func (s *Store[T]) Free(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeLocked(h)
}

// FreeName releases the object most recently registered under name, if any.
func (s *Store[T]) FreeName(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.names[name]
	if !ok {
		return false
	}
	return s.freeLocked(h)
}

// Lookup returns the handle currently mapped to name.
func (s *Store[T]) Lookup(name string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.names[name]
	return h, ok
}

// Len returns the number of live registrations.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count - len(s.free)
}

// Cap returns the size of the slot table.
func (s *Store[T]) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Reset drops every registration and shrinks the table back to its initial size.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = make([]slot[T], minCapacity)
	s.count = 0
	s.free = nil
	s.names = make(map[string]Handle)
}

func (s *Store[T]) freeLocked(h Handle) bool {
	idx := int(h) - 1
	if idx < 0 || idx >= s.count || !s.slots[idx].used {
		return false
	}
	if name := s.slots[idx].name; name != "" && s.names[name] == h {
		delete(s.names, name)
	}
	s.slots[idx] = slot[T]{}
	s.free = append(s.free, idx)
	return true
}
