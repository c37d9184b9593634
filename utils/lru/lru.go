package lru

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a size-bounded map evicting the least recently used key.
type Cache[K comparable, V any] struct {
	maxSize int
	items   map[K]*list.Element
	list    *list.List
	mu      sync.Mutex
}

func New[K comparable, V any](maxSize int) *Cache[K, V] {
	if maxSize < 1 {
		panic("assertion error: maxSize < 1")
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		items:   make(map[K]*list.Element, maxSize),
		list:    list.New(),
	}
}

// Get fetches an item and moves it to the front of eviction order.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.list.MoveToFront(element)
	return element.Value.(entry[K, V]).value, true
}

// Add stores value, evicting the oldest item when full.
func (c *Cache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		element.Value = entry[K, V]{key, value}
		c.list.MoveToFront(element)
		return
	}

	if len(c.items) >= c.maxSize {
		element := c.list.Back()
		c.list.Remove(element)
		delete(c.items, element.Value.(entry[K, V]).key)
	}
	c.items[key] = c.list.PushFront(entry[K, V]{key, value})
}

// GetOrLoad returns the cached value or stores the one returned by load.
// Load errors are not cached.
func (c *Cache[K, V]) GetOrLoad(key K, load func(K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(key)
	if err != nil {
		return v, err
	}
	c.Add(key, v)
	return v, nil
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
