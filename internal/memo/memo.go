// Package memo provides a bounded LRU cache for memoizing repeated
// lookups, keyed by a serialized argument signature.
package memo

import (
	"container/list"
	"sync"
)

// DefaultCapacity is used when a Cache is created with capacity <= 0.
const DefaultCapacity = 1024

// Cache is a fixed-capacity LRU cache. Safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	cap int
	ll  *list.List
	idx map[string]*list.Element
}

type entry struct {
	key   string
	value interface{}
}

// New creates a Cache holding at most capacity entries. The least
// recently used entry is evicted when the cache is full.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		cap: capacity,
		ll:  list.New(),
		idx: make(map[string]*list.Element),
	}
}

// Get returns the cached value for key, marking it most recently used.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.idx[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Put stores value under key, evicting the least recently used entry if
// the cache is at capacity.
func (c *Cache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.idx[key]; ok {
		el.Value.(*entry).value = value
		c.ll.MoveToFront(el)
		return
	}
	c.idx[key] = c.ll.PushFront(&entry{key: key, value: value})
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.idx, oldest.Value.(*entry).key)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
