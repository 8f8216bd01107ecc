// ABOUTME: Thread-safe TTL cache deduplicating change packet UIDs.
// ABOUTME: Used by the authority to drop redelivered changes after reconnects.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a UID's last-seen time with its position in insertion order.
type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache records the change UIDs the authority has already processed, bounded
// by a TTL and a maximum size. A client that reconnects mid-flight may
// retransmit queued packets; a hit here means the change already entered
// canonical history and must not apply twice. Insertion order rides in a
// doubly-linked list so capacity eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int

	done   chan struct{}
	closed bool
}

// New creates a cache and starts its background expiry sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// CheckAndMark reports whether uid is a live duplicate, marking it as seen
// either way. Atomic: of any number of sessions racing the same
// retransmitted packet, exactly one observes false.
func (c *Cache) CheckAndMark(uid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.seen[uid]; ok {
		dup := now.Sub(e.at) < c.ttl
		e.at = now
		c.order.MoveToBack(e.elem)
		return dup
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			evicted, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, evicted)
		}
	}

	c.seen[uid] = &entry{at: now, elem: c.order.PushBack(uid)}
	return false
}

// sweepLoop periodically drops expired entries so long-idle UIDs do not pin
// capacity.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for uid, e := range c.seen {
		if now.Sub(e.at) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.seen, uid)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
