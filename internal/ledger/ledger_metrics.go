package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// NodeOpsTotal counts node API calls by operation.
	NodeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofscore",
			Name:      "node_operations_total",
			Help:      "Total ledger node API calls by operation.",
		},
		[]string{"op"},
	)

	// NodeOpDuration observes node round-trip latency by operation.
	NodeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proofscore",
			Name:      "node_operation_duration_seconds",
			Help:      "Ledger node round-trip duration in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"op"},
	)

	// NodeLatestHeight tracks the last block height the node reported.
	NodeLatestHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proofscore",
			Name:      "node_latest_height",
			Help:      "Latest block height reported by the ledger node.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodeOpsTotal,
		NodeOpDuration,
		NodeLatestHeight,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(op string) func() {
	NodeOpsTotal.WithLabelValues(op).Inc()
	start := time.Now()
	return func() {
		NodeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
