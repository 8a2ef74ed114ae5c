package lrucache

import (
	"sync"
)

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
	prev  *cacheEntry[K, V]
	next  *cacheEntry[K, V]
}

// Cache is a fixed capacity least recently used cache, safe for concurrent use.
type Cache[K comparable, V any] struct {
	entries map[K]*cacheEntry[K, V]
	head    *cacheEntry[K, V]
	tail    *cacheEntry[K, V]
	maxSize int
	mu      sync.Mutex
}

func New[K comparable, V any](maxSize int) *Cache[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[K, V]{
		entries: make(map[K]*cacheEntry[K, V], maxSize),
		maxSize: maxSize,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	// Move to front (most recently used)
	c.moveToFront(entry)

	return entry.value, true
}

// Put stores the value and returns the key evicted to make room for it, if any.
func (c *Cache[K, V]) Put(key K, value V) (K, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		c.moveToFront(entry)
		var zero K
		return zero, false
	}

	entry := &cacheEntry[K, V]{
		key:   key,
		value: value,
	}
	c.entries[key] = entry
	c.addToFront(entry)

	if len(c.entries) > c.maxSize {
		return c.evictLRU()
	}
	var zero K
	return zero, false
}

func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlink(entry)
	delete(c.entries, key)
	return true
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) moveToFront(entry *cacheEntry[K, V]) {
	if entry == c.head {
		return
	}
	c.unlink(entry)
	c.addToFront(entry)
}

func (c *Cache[K, V]) unlink(entry *cacheEntry[K, V]) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
}

func (c *Cache[K, V]) addToFront(entry *cacheEntry[K, V]) {
	entry.next = c.head
	entry.prev = nil

	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry

	if c.tail == nil {
		c.tail = entry
	}
}

func (c *Cache[K, V]) evictLRU() (K, bool) {
	if c.tail == nil {
		var zero K
		return zero, false
	}

	oldTail := c.tail
	c.unlink(oldTail)
	delete(c.entries, oldTail.key)

	return oldTail.key, true
}
