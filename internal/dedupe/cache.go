// ABOUTME: Thread-safe mapping from scope key to bounded dedupe set.
// ABOUTME: Shared by command handlers (lookups, inserts) and the saver (snapshots).

package dedupe

import (
	"sync"
)

// Snapshot is a point-in-time copy of a Cache: scope key to item ids, oldest
// first. Only non-empty scopes are present.
type Snapshot map[uint64][]uint64

// Entries returns the total number of ids in the snapshot.
func (s Snapshot) Entries() int {
	total := 0
	for _, items := range s {
		total += len(items)
	}
	return total
}

// scope pairs a Set with the lock guarding it.
type scope struct {
	mu  sync.RWMutex
	set *Set
}

// Cache provides per-scope dedupe sets. The scope map has its own lock which
// is only taken for writing when a new scope appears; every scope is then
// guarded by its own RWMutex, so rooms never block each other.
type Cache struct {
	mu       sync.RWMutex
	scopes   map[uint64]*scope
	capacity int
	onChange func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithOnChange registers fn to be called after every mutation that changed
// the cache. fn must not block; the saver's Notify is the intended hook.
func WithOnChange(fn func()) Option {
	return func(c *Cache) {
		c.onChange = fn
	}
}

// New creates an empty cache whose scopes hold at most capacity ids each.
func New(capacity int, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		scopes:   make(map[uint64]*scope),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore builds a cache from a snapshot. Every set's index is rebuilt from
// its sequence before the cache is returned.
func Restore(capacity int, snap Snapshot, opts ...Option) *Cache {
	c := New(capacity, opts...)
	for key, items := range snap {
		if len(items) == 0 {
			continue
		}
		c.scopes[key] = &scope{set: setFromItems(c.capacity, items)}
	}
	return c
}

// OnChange replaces the change hook. It exists for startup wiring, where the
// cache is loaded before the saver that listens to it is created.
func (c *Cache) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Capacity returns the per-scope capacity.
func (c *Cache) Capacity() int { return c.capacity }

// Contains reports whether id was seen in scope.
func (c *Cache) Contains(key, id uint64) bool {
	c.mu.RLock()
	sc, ok := c.scopes[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.set.Contains(id)
}

// Insert records id in scope, creating the scope if needed. When the scope is
// full its oldest id is evicted and returned with ok set to true.
func (c *Cache) Insert(key, id uint64) (evicted uint64, ok bool) {
	sc := c.scopeFor(key)

	sc.mu.Lock()
	before := sc.set.Len()
	evicted, ok = sc.set.Insert(id)
	changed := ok || sc.set.Len() != before
	sc.mu.Unlock()

	if changed {
		c.notify()
	}
	return evicted, ok
}

// Clear forgets every id in scope and returns how many were removed. The
// count and the removal happen under one lock, so concurrent inserts are
// either counted and removed or kept.
func (c *Cache) Clear(key uint64) int {
	c.mu.RLock()
	sc, ok := c.scopes[key]
	c.mu.RUnlock()
	if !ok {
		return 0
	}

	sc.mu.Lock()
	removed := sc.set.Len()
	sc.set.Clear()
	sc.mu.Unlock()

	if removed > 0 {
		c.notify()
	}
	return removed
}

// Len returns the number of ids remembered for scope.
func (c *Cache) Len(key uint64) int {
	c.mu.RLock()
	sc, ok := c.scopes[key]
	c.mu.RUnlock()
	if !ok {
		return 0
	}

	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.set.Len()
}

// TotalEntries sums the ids held across all scopes. Diagnostics only.
func (c *Cache) TotalEntries() int {
	total := 0
	for _, sc := range c.scopeList() {
		sc.mu.RLock()
		total += sc.set.Len()
		sc.mu.RUnlock()
	}
	return total
}

// Scopes returns the number of scopes ever written to.
func (c *Cache) Scopes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scopes)
}

// Snapshot copies every non-empty scope. Each scope is read under its own
// read lock, so a snapshot never observes a half-applied insert.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	keys := make([]uint64, 0, len(c.scopes))
	scopes := make([]*scope, 0, len(c.scopes))
	for key, sc := range c.scopes {
		keys = append(keys, key)
		scopes = append(scopes, sc)
	}
	c.mu.RUnlock()

	snap := make(Snapshot, len(scopes))
	for i, sc := range scopes {
		sc.mu.RLock()
		if sc.set.Len() > 0 {
			snap[keys[i]] = sc.set.Items()
		}
		sc.mu.RUnlock()
	}
	return snap
}

// scopeFor returns the scope for key, creating it on first use.
func (c *Cache) scopeFor(key uint64) *scope {
	c.mu.RLock()
	sc, ok := c.scopes[key]
	c.mu.RUnlock()
	if ok {
		return sc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sc, ok = c.scopes[key]; ok {
		return sc
	}
	sc = &scope{set: NewSet(c.capacity)}
	c.scopes[key] = sc
	return sc
}

func (c *Cache) scopeList() []*scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*scope, 0, len(c.scopes))
	for _, sc := range c.scopes {
		out = append(out, sc)
	}
	return out
}

func (c *Cache) notify() {
	c.mu.RLock()
	fn := c.onChange
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
