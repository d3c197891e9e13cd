// ABOUTME: Thread-safe bounded FIFO cache for deduplicating webhook events.
// ABOUTME: Sized to cover upstream retry bursts; oldest ids are evicted at capacity.

package dedupe

import (
	"container/list"
	"sync"
)

// Cache tracks recently processed event ids so redelivered webhook events
// can be ignored. Retention is purely size-based: when the cache is full,
// the oldest id is evicted to admit the newest. Uses a doubly-linked list
// to maintain insertion order for O(1) eviction.
//
// The cache is not persisted. A process restart is assumed to coincide
// with the upstream retry window closing, so the occasional duplicate
// reply after a restart is acceptable.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // ids in insertion order, oldest at front
	maxSize int
}

// New creates a dedupe cache holding at most maxSize event ids.
func New(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// AlreadyProcessed atomically checks whether eventID has been seen and
// records it if not. The first call for an id returns false; every
// subsequent call returns true until the id is evicted. The single
// atomic operation avoids TOCTOU races between concurrent webhook
// deliveries of the same event.
func (c *Cache) AlreadyProcessed(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[eventID]; ok {
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[eventID] = c.order.PushBack(eventID)
	return false
}

// Contains reports whether eventID is currently retained, without
// recording it.
func (c *Cache) Contains(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[eventID]
	return ok
}

// Len returns the number of ids currently retained.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest removes the oldest id. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}
