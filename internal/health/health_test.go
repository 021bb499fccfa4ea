package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("ledger", func(_ context.Context) Status {
		return Status{Name: "ledger", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("ledger", func(_ context.Context) Status {
		return Status{Name: "ledger", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestSimple(t *testing.T) {
	ok := Simple("ledger", func(_ context.Context) error { return nil })
	st := ok(context.Background())
	if !st.Healthy || st.Name != "ledger" || st.Detail != "" {
		t.Fatalf("unexpected status: %+v", st)
	}

	bad := Simple("ledger", func(_ context.Context) error { return errors.New("node unreachable") })
	st = bad(context.Background())
	if st.Healthy {
		t.Fatal("probe error should report unhealthy")
	}
	if st.Detail != "node unreachable" {
		t.Fatalf("expected error text as detail, got %q", st.Detail)
	}
}

func TestRegistryChecksRunConcurrently(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"ledger", "cache", "prover"} {
		name := name
		r.Register(name, func(_ context.Context) Status {
			time.Sleep(50 * time.Millisecond)
			return Status{Name: name, Healthy: true}
		})
	}

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	elapsed := time.Since(start)

	if !healthy {
		t.Fatal("expected healthy")
	}
	// Serial execution would take 150ms+
	if elapsed > 120*time.Millisecond {
		t.Errorf("checks appear to run serially: took %v", elapsed)
	}
	// Registration order is preserved regardless of completion order
	if statuses[0].Name != "ledger" || statuses[1].Name != "cache" || statuses[2].Name != "prover" {
		t.Errorf("statuses out of registration order: %+v", statuses)
	}
	for _, st := range statuses {
		if st.LatencyMs < 40 {
			t.Errorf("check %s latency not stamped: %dms", st.Name, st.LatencyMs)
		}
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}(i)
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
