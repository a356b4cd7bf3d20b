package server

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// CacheKey identifies one analysis request: the endpoint and the digest of
// its body.
type CacheKey string

// KeyFor derives the cache key of a request body.
func KeyFor(endpoint string, body []byte) CacheKey {
	sum := sha256.Sum256(body)
	return CacheKey(endpoint + ":" + hex.EncodeToString(sum[:]))
}

// CacheStats exposes basic metrics.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Entries   int64 `json:"entries"`
	Bytes     int64 `json:"bytes"`
	Evictions int64 `json:"evictions"`
}

// ResponseCache is a thread-safe LRU of encoded responses with a max entry
// count. Analysis is deterministic, so identical bodies share a response.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	head     *entry
	tail     *entry
	table    map[CacheKey]*entry
	stats    CacheStats
}

type entry struct {
	key    CacheKey
	status int
	body   []byte
	prev   *entry
	next   *entry
}

// NewResponseCache creates a cache holding up to capacity responses. If
// capacity<=0, defaults to 256.
func NewResponseCache(capacity int) *ResponseCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &ResponseCache{capacity: capacity, table: make(map[CacheKey]*entry)}
}

func (c *ResponseCache) unlink(n *entry) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *ResponseCache) pushFront(n *entry) {
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// Get returns the cached status and body for key.
func (c *ResponseCache) Get(key CacheKey) (int, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.table[key]
	if !ok {
		c.stats.Misses++
		return 0, nil, false
	}
	c.unlink(n)
	c.pushFront(n)
	c.stats.Hits++
	return n.status, n.body, true
}

// Put stores a response, evicting the least recently used entries.
func (c *ResponseCache) Put(key CacheKey, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.table[key]; ok {
		c.stats.Bytes += int64(len(body) - len(n.body))
		n.status, n.body = status, body
		c.unlink(n)
		c.pushFront(n)
		return
	}
	n := &entry{key: key, status: status, body: body}
	c.pushFront(n)
	c.table[key] = n
	c.stats.Bytes += int64(len(body))
	for len(c.table) > c.capacity && c.tail != nil {
		old := c.tail
		c.unlink(old)
		delete(c.table, old.key)
		c.stats.Evictions++
		c.stats.Bytes -= int64(len(old.body))
	}
	c.stats.Entries = int64(len(c.table))
}

// Invalidate drops every entry.
func (c *ResponseCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head, c.tail = nil, nil
	c.table = make(map[CacheKey]*entry)
	c.stats.Entries, c.stats.Bytes = 0, 0
}

// Stats returns a snapshot of the counters.
func (c *ResponseCache) Stats() CacheStats { c.mu.Lock(); defer c.mu.Unlock(); return c.stats }
