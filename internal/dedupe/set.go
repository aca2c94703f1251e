// ABOUTME: Fixed-capacity FIFO set of seen gallery item ids for a single scope.
// ABOUTME: Ring buffer keeps insertion order, a map index answers membership in O(1).

package dedupe

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the number of items remembered per scope when the
// configuration does not say otherwise.
const DefaultCapacity = 128

// ErrInvariant reports that a Set's ring buffer and index disagree.
// It can only happen through a bug in this package.
var ErrInvariant = errors.New("dedupe: set invariant violated")

// CheckInvariants makes every Set verify its invariants after each mutation
// and panic with ErrInvariant on violation. Tests turn it on.
var CheckInvariants = false

// Set is a bounded, insertion-ordered set of item ids.
// It is not safe for concurrent use; Cache provides the locking.
type Set struct {
	ring  []uint64 // len == capacity; live items are ring[head : head+n] modulo capacity
	head  int
	n     int
	index map[uint64]struct{}
}

// NewSet creates an empty set holding at most capacity items.
func NewSet(capacity int) *Set {
	if capacity < 1 {
		panic(fmt.Sprintf("dedupe: capacity must be positive, got %d", capacity))
	}
	return &Set{
		ring:  make([]uint64, capacity),
		index: make(map[uint64]struct{}, capacity),
	}
}

// setFromItems builds a set from a persisted sequence, oldest first.
// Duplicate ids keep their first position, and if the sequence is longer than
// capacity only the newest items survive, exactly as if they had been
// inserted one by one.
func setFromItems(capacity int, items []uint64) *Set {
	s := NewSet(capacity)
	seen := make(map[uint64]struct{}, len(items))
	unique := make([]uint64, 0, len(items))
	for _, id := range items {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) > capacity {
		unique = unique[len(unique)-capacity:]
	}
	copy(s.ring, unique)
	s.n = len(unique)
	s.RebuildIndex()
	return s
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id uint64) bool {
	_, ok := s.index[id]
	return ok
}

// Insert adds id to the set. Inserting an id that is already present is a
// no-op and does not change its eviction order. When the set is full the
// oldest id is evicted and returned with ok set to true.
func (s *Set) Insert(id uint64) (evicted uint64, ok bool) {
	if _, exists := s.index[id]; exists {
		return 0, false
	}

	capacity := len(s.ring)
	if s.n >= capacity {
		evicted = s.ring[s.head]
		delete(s.index, evicted)
		s.head = (s.head + 1) % capacity
		s.n--
		ok = true
	}

	s.ring[(s.head+s.n)%capacity] = id
	s.n++
	s.index[id] = struct{}{}

	s.verify()
	return evicted, ok
}

// Clear removes every id.
func (s *Set) Clear() {
	s.head = 0
	s.n = 0
	clear(s.index)
	s.verify()
}

// RebuildIndex discards the membership index and recomputes it from the ring
// buffer. The index is never persisted, so this runs after every restore.
func (s *Set) RebuildIndex() {
	s.index = make(map[uint64]struct{}, len(s.ring))
	for i := 0; i < s.n; i++ {
		s.index[s.at(i)] = struct{}{}
	}
	s.verify()
}

// Len returns the number of ids currently held.
func (s *Set) Len() int { return s.n }

// Cap returns the fixed capacity.
func (s *Set) Cap() int { return len(s.ring) }

// Items returns a copy of the ids, oldest first.
func (s *Set) Items() []uint64 {
	out := make([]uint64, s.n)
	for i := range out {
		out[i] = s.at(i)
	}
	return out
}

// at returns the i-th oldest id.
func (s *Set) at(i int) uint64 {
	return s.ring[(s.head+i)%len(s.ring)]
}

func (s *Set) verify() {
	if !CheckInvariants {
		return
	}
	if err := s.invariantErr(); err != nil {
		panic(err)
	}
}

func (s *Set) invariantErr() error {
	if s.n > len(s.ring) {
		return fmt.Errorf("%w: %d items exceed capacity %d", ErrInvariant, s.n, len(s.ring))
	}
	if len(s.index) != s.n {
		return fmt.Errorf("%w: index has %d ids, ring has %d", ErrInvariant, len(s.index), s.n)
	}
	for i := 0; i < s.n; i++ {
		if _, ok := s.index[s.at(i)]; !ok {
			return fmt.Errorf("%w: id %d missing from index", ErrInvariant, s.at(i))
		}
	}
	return nil
}
