package directory

import (
	"sync"
	"time"
)

type bookCache struct {
	mu       sync.RWMutex
	book     *Book
	loadedAt time.Time
	ttl      time.Duration
}

func newBookCache(ttl time.Duration) *bookCache {
	return &bookCache{ttl: ttl}
}

// Get returns nil once the book is older than the TTL. A zero TTL never expires.
func (c *bookCache) Get() *Book {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.book == nil || (c.ttl > 0 && time.Since(c.loadedAt) > c.ttl) {
		return nil
	}
	return c.book
}

func (c *bookCache) Set(book *Book) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.book = book
	c.loadedAt = time.Now()
}

func (c *bookCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.book = nil
}
