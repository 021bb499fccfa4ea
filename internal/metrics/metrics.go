// Package metrics provides Prometheus instrumentation for the proofScore service.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofscore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proofscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts score assessments by risk tier.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofscore",
			Name:      "assessments_total",
			Help:      "Total score assessments produced by risk tier.",
		},
		[]string{"tier"},
	)

	// AttestationsTotal counts commitment generations by result.
	AttestationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofscore",
			Name:      "attestations_total",
			Help:      "Total commitment generations by result.",
		},
		[]string{"result"},
	)

	// SubmissionsTotal counts ledger submissions by final status.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofscore",
			Name:      "submissions_total",
			Help:      "Total ledger submissions by final status.",
		},
		[]string{"status"},
	)

	// FlowsTotal counts full pipeline runs by outcome.
	FlowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofscore",
			Name:      "flows_total",
			Help:      "Total full pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	// FieldFallbacksTotal counts metrics fields served from fallbacks.
	FieldFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofscore",
			Name:      "field_fallbacks_total",
			Help:      "Total metrics fields that fell back to defaults, by field.",
		},
		[]string{"field"},
	)

	// ActiveWebSocketClients tracks connected event stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proofscore",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// CacheEntries tracks current metrics cache occupancy.
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proofscore", Name: "cache_entries",
		Help: "Current number of entries in the metrics cache.",
	})
	// CacheHits tracks cumulative metrics cache hits.
	CacheHits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proofscore", Name: "cache_hits_total",
		Help: "Total metrics cache hits.",
	})
	// CacheMisses tracks cumulative metrics cache misses.
	CacheMisses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proofscore", Name: "cache_misses_total",
		Help: "Total metrics cache misses.",
	})
	// CacheEvictions tracks cumulative metrics cache evictions.
	CacheEvictions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proofscore", Name: "cache_evictions_total",
		Help: "Total metrics cache evictions.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proofscore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// ProveDuration observes commitment proving latency.
	ProveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proofscore",
		Name:      "prove_duration_seconds",
		Help:      "Time to generate a commitment proof in seconds.",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 30},
	})

	// ConfirmDuration observes broadcast-to-confirmation latency.
	ConfirmDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proofscore",
		Name:      "confirm_duration_seconds",
		Help:      "Time from broadcast to transaction confirmation in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30},
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AttestationsTotal,
		SubmissionsTotal,
		FlowsTotal,
		FieldFallbacksTotal,
		ActiveWebSocketClients,
		CacheEntries,
		CacheHits,
		CacheMisses,
		CacheEvictions,
		GoroutineCount,
		ProveDuration,
		ConfirmDuration,
	)
}

// StatsSource exposes metrics cache statistics for sampling.
type StatsSource interface {
	CacheStats() activity.Stats
}

// StartCacheStatsCollector periodically samples cache occupancy and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits when
// ctx is done.
func StartCacheStatsCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := src.CacheStats()
			CacheEntries.Set(float64(st.Size))
			CacheHits.Set(float64(st.Hits))
			CacheMisses.Set(float64(st.Misses))
			CacheEvictions.Set(float64(st.Evictions))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
