package cache

import "sync"

// Cache is a thread-safe LRU cache with a hard capacity.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*entry[K, V]
	order    lruList[K]
	capacity int
	onEvict  func(K, V)

	hits      uint64
	misses    uint64
	evictions uint64
}

type entry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
}

// New creates a cache holding at most capacity entries. A capacity of 0
// means unlimited.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:  make(map[K]*entry[K, V]),
		capacity: capacity,
	}
}

// OnEvict sets a callback run for every value that leaves the cache,
// including values replaced by Set.
// It runs with the cache unlocked.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.MoveToFront(e.node)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entries if
// the cache is over capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	evicted := c.setLocked(key, value)
	fn := c.onEvict
	c.mu.Unlock()
	c.release(fn, evicted)
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result. Errors are not cached. create runs under the cache lock, so
// concurrent callers never create the same key twice.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.hits++
		c.order.MoveToFront(e.node)
		c.mu.Unlock()
		return e.value, nil
	}
	c.misses++
	value, err := create()
	if err != nil {
		c.mu.Unlock()
		return value, err
	}
	evicted := c.setLocked(key, value)
	fn := c.onEvict
	c.mu.Unlock()
	c.release(fn, evicted)
	return value, nil
}

type kv[K comparable, V any] struct {
	key   K
	value V
}

func (c *Cache[K, V]) setLocked(key K, value V) []kv[K, V] {
	var evicted []kv[K, V]
	if e, ok := c.entries[key]; ok {
		evicted = append(evicted, kv[K, V]{key, e.value})
		e.value = value
		c.order.MoveToFront(e.node)
		return evicted
	}
	c.entries[key] = &entry[K, V]{value: value, node: c.order.PushFront(key)}
	for c.capacity > 0 && len(c.entries) > c.capacity {
		old, ok := c.order.RemoveOldest()
		if !ok {
			break
		}
		evicted = append(evicted, kv[K, V]{old, c.entries[old].value})
		delete(c.entries, old)
		c.evictions++
	}
	return evicted
}

func (c *Cache[K, V]) release(fn func(K, V), evicted []kv[K, V]) {
	if fn == nil {
		return
	}
	for _, e := range evicted {
		fn(e.key, e.value)
	}
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.order.Remove(e.node)
		delete(c.entries, key)
	}
	fn := c.onEvict
	c.mu.Unlock()
	if ok {
		c.release(fn, []kv[K, V]{{key, e.value}})
	}
	return ok
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	evicted := make([]kv[K, V], 0, len(c.entries))
	for k, e := range c.entries {
		evicted = append(evicted, kv[K, V]{k, e.value})
	}
	c.entries = make(map[K]*entry[K, V])
	c.order.Clear()
	fn := c.onEvict
	c.mu.Unlock()
	c.release(fn, evicted)
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the maximum number of entries, 0 if unlimited.
func (c *Cache[K, V]) Capacity() int { return c.capacity }

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Len:       len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Stats contains cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64

	// HitRate is Hits / (Hits + Misses), 0 before the first lookup.
	HitRate float64
}
