// Package activity acquires per-account activity metrics for credit
// assessment.
//
// A Store answers Fetch requests from a bounded TTL cache, falling back to
// its Source on a miss. The five field queries fan out concurrently and each
// degrades independently: one unavailable query substitutes that field's
// fallback value instead of failing the whole fetch, and the caller gets a
// report of which fields fell back.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ShahiTechnovation/proofScore/internal/validation"
)

var (
	// ErrAddressFormat rejects a malformed account address before any
	// network traffic happens.
	ErrAddressFormat = errors.New("activity: malformed account address")

	// ErrMetricsFetch aggregates field query failures when fallback is
	// disabled.
	ErrMetricsFetch = errors.New("activity: metrics fetch failed")
)

// Field names as reported in fallback diagnostics.
const (
	FieldTransactionCount = "transactionCount"
	FieldAccountAgeMonths = "accountAgeMonths"
	FieldActivityScore    = "activityScore"
	FieldRepaymentRate    = "repaymentRate"
	FieldBalance          = "balance"
)

// FieldFallback records one field that used its fallback value during a fetch.
type FieldFallback struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Fallbacks holds the per-field values substituted when a query fails.
type Fallbacks struct {
	TransactionCount int
	AccountAgeMonths int
	ActivityScore    int
	RepaymentRate    int
	Balance          float64
}

// DefaultFallbacks treats an unknown metric as zero: a field we cannot
// observe earns no bonus.
var DefaultFallbacks = Fallbacks{}

// Source answers the five per-field activity queries for an address.
// Implementations must be safe for concurrent use; the Store issues all
// five queries at once.
type Source interface {
	TransactionCount(ctx context.Context, address string) (int, error)
	AccountAgeMonths(ctx context.Context, address string) (int, error)
	ActivityScore(ctx context.Context, address string) (int, error)
	RepaymentRate(ctx context.Context, address string) (int, error)
	Balance(ctx context.Context, address string) (float64, error)
}

const (
	// DefaultCacheCapacity bounds the number of cached accounts.
	DefaultCacheCapacity = 128

	// DefaultCacheTTL bounds how long a fetched result stays fresh.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultQueryTimeout bounds a single field query.
	DefaultQueryTimeout = 5 * time.Second
)

// Store fetches and caches account activity metrics.
type Store struct {
	source       Source
	cache        *cache
	logger       *slog.Logger
	fallbacks    Fallbacks
	strict       bool
	queryTimeout time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCache sizes the metrics cache.
func WithCache(capacity int, ttl time.Duration) StoreOption {
	return func(s *Store) { s.cache = newCache(capacity, ttl) }
}

// WithLogger sets the logger for fallback diagnostics.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithFallbacks overrides the per-field fallback values.
func WithFallbacks(f Fallbacks) StoreOption {
	return func(s *Store) { s.fallbacks = f }
}

// WithoutFallback disables per-field degradation: any failed query makes
// the whole fetch fail with ErrMetricsFetch.
func WithoutFallback() StoreOption {
	return func(s *Store) { s.strict = true }
}

// WithQueryTimeout bounds each individual field query.
func WithQueryTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.queryTimeout = d }
}

// NewStore creates a metrics store over source.
func NewStore(source Source, opts ...StoreOption) *Store {
	s := &Store{
		source:       source,
		cache:        newCache(DefaultCacheCapacity, DefaultCacheTTL),
		logger:       slog.Default(),
		fallbacks:    DefaultFallbacks,
		queryTimeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch returns metrics for an address, from cache when fresh. On a miss it
// queries all five fields concurrently, substitutes fallback values for the
// ones that fail, and caches the assembled result. The returned report lists
// every field that fell back; it is nil when all queries succeeded or the
// result came from cache.
func (s *Store) Fetch(ctx context.Context, address string) (*Metrics, []FieldFallback, error) {
	address = validation.SanitizeAddress(address)
	if !validation.IsValidAddress(address) {
		return nil, nil, fmt.Errorf("%w: %q", ErrAddressFormat, address)
	}

	if m, ok := s.cache.get(address); ok {
		return m, nil, nil
	}

	m := &Metrics{
		Address:      address,
		LastActivity: time.Now().Unix(),
	}

	queries := []struct {
		field    string
		run      func(ctx context.Context) error
		fallback func()
	}{
		{
			FieldTransactionCount,
			func(ctx context.Context) (err error) { m.TransactionCount, err = s.source.TransactionCount(ctx, address); return },
			func() { m.TransactionCount = s.fallbacks.TransactionCount },
		},
		{
			FieldAccountAgeMonths,
			func(ctx context.Context) (err error) { m.AccountAgeMonths, err = s.source.AccountAgeMonths(ctx, address); return },
			func() { m.AccountAgeMonths = s.fallbacks.AccountAgeMonths },
		},
		{
			FieldActivityScore,
			func(ctx context.Context) (err error) { m.ActivityScore, err = s.source.ActivityScore(ctx, address); return },
			func() { m.ActivityScore = s.fallbacks.ActivityScore },
		},
		{
			FieldRepaymentRate,
			func(ctx context.Context) (err error) { m.RepaymentRate, err = s.source.RepaymentRate(ctx, address); return },
			func() { m.RepaymentRate = s.fallbacks.RepaymentRate },
		},
		{
			FieldBalance,
			func(ctx context.Context) (err error) { m.Balance, err = s.source.Balance(ctx, address); return },
			func() { m.Balance = s.fallbacks.Balance },
		},
	}

	// One slot per query keeps the join deterministic; each goroutine
	// writes only its own field and its own slot.
	errs := make([]error, len(queries))
	var wg sync.WaitGroup
	wg.Add(len(queries))
	for i, q := range queries {
		go func() {
			defer wg.Done()
			qctx := ctx
			if s.queryTimeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
				defer cancel()
			}
			errs[i] = q.run(qctx)
		}()
	}
	wg.Wait()

	var report []FieldFallback
	var failed []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if s.strict {
			failed = append(failed, fmt.Errorf("%s: %w", queries[i].field, err))
			continue
		}
		queries[i].fallback()
		report = append(report, FieldFallback{Field: queries[i].field, Reason: err.Error()})
		s.logger.Warn("metrics field fell back",
			"address", address,
			"field", queries[i].field,
			"error", err,
		)
	}

	if len(failed) > 0 {
		return nil, nil, fmt.Errorf("%w: %w", ErrMetricsFetch, errors.Join(failed...))
	}

	s.cache.put(address, m)
	return m, report, nil
}

// Invalidate drops one address from the cache. Returns whether it was cached.
func (s *Store) Invalidate(address string) bool {
	return s.cache.invalidate(validation.SanitizeAddress(address))
}

// InvalidateAll empties the cache and returns how many entries were dropped.
func (s *Store) InvalidateAll() int {
	return s.cache.invalidateAll()
}

// CacheStats reports cache occupancy.
func (s *Store) CacheStats() Stats {
	return s.cache.stats()
}
