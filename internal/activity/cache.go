package activity

import (
	"container/list"
	"sync"
	"time"
)

// Stats reports cache occupancy and effectiveness.
type Stats struct {
	Size      int           `json:"size"`
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Evictions uint64        `json:"evictions"`
}

// cache is a bounded map of address -> Metrics with TTL expiry and LRU
// eviction. A hit refreshes recency but never the TTL: freshness is
// measured from insert. Writes sweep expired entries before falling back
// to evicting the least recently used one, so eviction is deterministic.
type cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

type cacheEntry struct {
	address  string
	metrics  Metrics
	storedAt time.Time
}

func newCache(capacity int, ttl time.Duration) *cache {
	return &cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// get returns a copy of the cached metrics for address, if present and fresh.
func (c *cache) get(address string) (*Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[address]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(el)
	c.hits++
	m := entry.metrics
	return &m, true
}

// put stores metrics for an address, evicting as needed.
func (c *cache) put(address string, m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[address]; ok {
		entry := el.Value.(*cacheEntry)
		entry.metrics = *m
		entry.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	c.sweepExpiredLocked()
	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	el := c.order.PushFront(&cacheEntry{
		address:  address,
		metrics:  *m,
		storedAt: c.now(),
	})
	c.entries[address] = el
}

func (c *cache) invalidate(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[address]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

func (c *cache) invalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return n
}

func (c *cache) stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:      len(c.entries),
		Capacity:  c.capacity,
		TTL:       c.ttl,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *cache) sweepExpiredLocked() {
	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if now.Sub(entry.storedAt) >= c.ttl {
			c.removeLocked(el)
		}
		el = prev
	}
}

func (c *cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.address)
	c.order.Remove(el)
}
