package activity

import (
	"testing"
	"time"
)

func addr(suffix byte) string {
	base := []byte("aleo1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq")
	base[len(base)-1] = suffix
	return string(base)
}

// testClock drives cache time by hand.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(capacity int, ttl time.Duration) (*cache, *testClock) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := newCache(capacity, ttl)
	c.now = clk.now
	return c, clk
}

func TestCachePutGet(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)

	m := &Metrics{Address: addr('a'), TransactionCount: 12}
	c.put(addr('a'), m)

	got, ok := c.get(addr('a'))
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.TransactionCount != 12 {
		t.Errorf("got %d transactions, want 12", got.TransactionCount)
	}

	// The cache hands out copies; mutating one must not leak back.
	got.TransactionCount = 99
	again, _ := c.get(addr('a'))
	if again.TransactionCount != 12 {
		t.Error("cache entry was mutated through a returned copy")
	}
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)
	if _, ok := c.get(addr('x')); ok {
		t.Fatal("expected miss for unknown address")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c, clk := newTestCache(4, time.Minute)
	c.put(addr('a'), &Metrics{Address: addr('a')})

	clk.advance(time.Minute - time.Second)
	if _, ok := c.get(addr('a')); !ok {
		t.Fatal("entry inside TTL should hit")
	}

	clk.advance(time.Second)
	if _, ok := c.get(addr('a')); ok {
		t.Fatal("entry past TTL should miss")
	}
}

func TestCacheHitDoesNotRefreshTTL(t *testing.T) {
	c, clk := newTestCache(4, time.Minute)
	c.put(addr('a'), &Metrics{Address: addr('a')})

	// Repeated hits through the window must not extend freshness:
	// TTL counts from insert.
	clk.advance(30 * time.Second)
	if _, ok := c.get(addr('a')); !ok {
		t.Fatal("mid-window hit expected")
	}

	clk.advance(30 * time.Second)
	if _, ok := c.get(addr('a')); ok {
		t.Fatal("TTL should expire relative to insert, not last hit")
	}
}

func TestCachePutRefreshesTTL(t *testing.T) {
	c, clk := newTestCache(4, time.Minute)
	c.put(addr('a'), &Metrics{Address: addr('a'), TransactionCount: 1})

	clk.advance(45 * time.Second)
	c.put(addr('a'), &Metrics{Address: addr('a'), TransactionCount: 2})

	clk.advance(45 * time.Second)
	got, ok := c.get(addr('a'))
	if !ok {
		t.Fatal("re-insert should restart the TTL window")
	}
	if got.TransactionCount != 2 {
		t.Errorf("got stale value %d, want 2", got.TransactionCount)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.put(addr('a'), &Metrics{Address: addr('a')})
	c.put(addr('b'), &Metrics{Address: addr('b')})

	// Touch a so b becomes the least recently used.
	if _, ok := c.get(addr('a')); !ok {
		t.Fatal("expected hit for a")
	}

	c.put(addr('c'), &Metrics{Address: addr('c')})

	if _, ok := c.get(addr('b')); ok {
		t.Error("b should have been evicted as least recently used")
	}
	if _, ok := c.get(addr('a')); !ok {
		t.Error("a should have survived eviction")
	}
	if _, ok := c.get(addr('c')); !ok {
		t.Error("c should be present")
	}
}

func TestCacheExpiredSweptBeforeLRU(t *testing.T) {
	c, clk := newTestCache(2, time.Minute)

	c.put(addr('a'), &Metrics{Address: addr('a')})
	clk.advance(59 * time.Second)
	c.put(addr('b'), &Metrics{Address: addr('b')})
	clk.advance(2 * time.Second) // a expired, b fresh

	c.put(addr('c'), &Metrics{Address: addr('c')})

	// The write swept expired a; live b must not be evicted for capacity.
	if _, ok := c.get(addr('b')); !ok {
		t.Error("fresh entry evicted while an expired one was available")
	}
	if _, ok := c.get(addr('c')); !ok {
		t.Error("new entry missing")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)
	c.put(addr('a'), &Metrics{Address: addr('a')})

	if !c.invalidate(addr('a')) {
		t.Error("invalidate should report the entry existed")
	}
	if c.invalidate(addr('a')) {
		t.Error("second invalidate should report absence")
	}
	if _, ok := c.get(addr('a')); ok {
		t.Error("entry should be gone")
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)
	c.put(addr('a'), &Metrics{})
	c.put(addr('b'), &Metrics{})

	if n := c.invalidateAll(); n != 2 {
		t.Errorf("dropped %d entries, want 2", n)
	}
	if st := c.stats(); st.Size != 0 {
		t.Errorf("size %d after invalidateAll, want 0", st.Size)
	}
}

func TestCacheStats(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.get(addr('a')) // miss
	c.put(addr('a'), &Metrics{})
	c.get(addr('a')) // hit
	c.put(addr('b'), &Metrics{})
	c.put(addr('c'), &Metrics{}) // evicts a, the LRU tail

	st := c.stats()
	if st.Capacity != 2 || st.TTL != time.Minute {
		t.Errorf("unexpected shape: %+v", st)
	}
	if st.Size != 2 {
		t.Errorf("size %d, want 2", st.Size)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", st.Hits, st.Misses)
	}
	if st.Evictions != 1 {
		t.Errorf("evictions=%d, want 1", st.Evictions)
	}
}
