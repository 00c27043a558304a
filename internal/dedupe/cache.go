// ABOUTME: TTL and size bounded record of inbound message ids per session
// ABOUTME: Lets the router drop transport redeliveries of the same message

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type key struct {
	session string
	message string
}

type record struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers message ids for a TTL, evicting the oldest id once full.
type Cache struct {
	mu      sync.Mutex
	records map[key]*record
	order   *list.List // of key, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its expiry sweeper. A zero ttl means ten
// minutes, a zero maxSize 10000.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		records: make(map[key]*record),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Seen reports whether messageID was already recorded for sessionID within
// the TTL, recording it if not. An empty messageID is never a duplicate.
func (c *Cache) Seen(sessionID, messageID string) bool {
	if messageID == "" {
		return false
	}
	k := key{session: sessionID, message: messageID}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if r, ok := c.records[k]; ok {
		if now.Sub(r.at) < c.ttl {
			return true
		}
		r.at = now
		c.order.MoveToBack(r.elem)
		return false
	}

	for len(c.records) >= c.maxSize {
		c.evictOldest()
	}
	c.records[k] = &record{at: now, elem: c.order.PushBack(k)}
	return false
}

// Len returns the number of recorded ids, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.records, front.Value.(key))
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep drops expired ids. Order is by last record time, so it stops at the
// first live entry.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		k := e.Value.(key)
		if now.Sub(c.records[k].at) < c.ttl {
			return
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.records, k)
		e = next
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
