// Package cache provides the prompt-keyed LRU cache behind cached completions.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// CacheEntry holds a cached value with expiration
type CacheEntry struct {
	Value     any       `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LRUCache is a thread-safe LRU cache with TTL support
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*list.Element
	lru      *list.List
}

type entry struct {
	key   string
	value CacheEntry
}

// NewLRUCache creates a new LRU cache with the given capacity and TTL. A
// capacity below one holds a single entry.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// WithClock replaces the time source used for expiry.
func (c *LRUCache) WithClock(now func() time.Time) *LRUCache {
	if now != nil {
		c.mu.Lock()
		c.now = now
		c.mu.Unlock()
	}
	return c
}

// Get retrieves a live value and marks it most recently used.
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*entry)
	if c.now().After(ent.value.ExpiresAt) {
		c.removeLocked(elem)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return ent.value.Value, true
}

// Set adds or refreshes a value, evicting the least recently used entry
// when over capacity.
func (c *LRUCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ce := CacheEntry{Value: value, ExpiresAt: c.now().Add(c.ttl)}
	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).value = ce
		c.lru.MoveToFront(elem)
		return
	}
	c.items[key] = c.lru.PushFront(&entry{key: key, value: ce})
	c.evictLocked()
}

// Delete drops key and reports whether it was present.
func (c *LRUCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if ok {
		c.removeLocked(elem)
	}
	return ok
}

// Clear removes all entries from the cache
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.lru.Init()
}

// Len returns the number of stored entries, expired ones included until
// they are next touched.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRUCache) removeLocked(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

func (c *LRUCache) evictLocked() {
	for c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
}

// HashKey derives a cache key from the joined parts.
func HashKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])
}

// Dump returns the live entries for persistence.
func (c *LRUCache) Dump() map[string]CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dump := make(map[string]CacheEntry, len(c.items))
	for k, elem := range c.items {
		if v := elem.Value.(*entry).value; !now.After(v.ExpiresAt) {
			dump[k] = v
		}
	}
	return dump
}

// Restore replaces the contents with the unexpired entries of dump. Entries
// expiring soonest are evicted first when dump exceeds the capacity.
func (c *LRUCache) Restore(dump map[string]CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Init()
	c.items = make(map[string]*list.Element, c.capacity)

	now := c.now()
	for k, v := range dump {
		if now.After(v.ExpiresAt) {
			continue
		}
		ent := &entry{key: k, value: v}
		// keep the list ordered by expiry, latest at the front
		mark := c.lru.Front()
		for mark != nil && mark.Value.(*entry).value.ExpiresAt.After(v.ExpiresAt) {
			mark = mark.Next()
		}
		if mark == nil {
			c.items[k] = c.lru.PushBack(ent)
		} else {
			c.items[k] = c.lru.InsertBefore(ent, mark)
		}
	}
	c.evictLocked()
}
