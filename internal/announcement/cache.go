package announcement

import (
	"sync"
	"time"
)

const (
	keyAll    = "all"
	keyActive = "active"
)

type cacheItem struct {
	value   interface{}
	expires time.Time
}

// ttlCache holds read results for a short time. A zero ttl disables it.
type ttlCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]cacheItem
	now   func() time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, items: make(map[string]cacheItem), now: time.Now}
}

func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(item.expires) {
		return nil, false
	}
	return item.value, true
}

func (c *ttlCache) set(key string, value interface{}) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = cacheItem{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) purge() {
	c.mu.Lock()
	c.items = make(map[string]cacheItem)
	c.mu.Unlock()
}
