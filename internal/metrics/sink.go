// internal/metrics/sink.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Per-region gauges, one time series per (region, metric) pair
	regionMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_region_metric",
			Help: "Latest observed value of a per-region metric",
		},
		[]string{"region", "metric"},
	)

	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_selections_total",
			Help: "Total number of routing selections per region",
		},
		[]string{"region", "request_type"},
	)

	selectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_selection_duration_seconds",
			Help:    "Time spent computing a routing selection",
			Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
		},
		[]string{"request_type"},
	)

	failoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_failovers_total",
			Help: "Total number of completed failovers",
		},
		[]string{"from_region", "to_region"},
	)

	rebalancesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_rebalances_total",
			Help: "Total number of weight rebalance runs",
		},
	)
)

// Sink receives best-effort metric observations. Implementations must never
// block the caller and never return errors; a lost observation is
// acceptable, a stalled routing decision is not.
type Sink interface {
	Observe(region, metric string, value float64)
	RecordSelection(region, requestType string)
	RecordSelectionDuration(requestType string, seconds float64)
	RecordFailover(fromRegion, toRegion string)
	RecordRebalance()
}

// PromSink exports observations as prometheus series.
type PromSink struct{}

// NewPromSink creates a prometheus-backed sink.
func NewPromSink() *PromSink {
	return &PromSink{}
}

// Observe implements Sink.
func (s *PromSink) Observe(region, metric string, value float64) {
	regionMetric.WithLabelValues(region, metric).Set(value)
}

// RecordSelection implements Sink.
func (s *PromSink) RecordSelection(region, requestType string) {
	selectionsTotal.WithLabelValues(region, requestType).Inc()
}

// RecordSelectionDuration implements Sink.
func (s *PromSink) RecordSelectionDuration(requestType string, seconds float64) {
	selectionDuration.WithLabelValues(requestType).Observe(seconds)
}

// RecordFailover implements Sink.
func (s *PromSink) RecordFailover(fromRegion, toRegion string) {
	failoversTotal.WithLabelValues(fromRegion, toRegion).Inc()
}

// RecordRebalance implements Sink.
func (s *PromSink) RecordRebalance() {
	rebalancesTotal.Inc()
}

// NopSink discards every observation.
type NopSink struct{}

// Observe implements Sink.
func (NopSink) Observe(string, string, float64) {}

// RecordSelection implements Sink.
func (NopSink) RecordSelection(string, string) {}

// RecordSelectionDuration implements Sink.
func (NopSink) RecordSelectionDuration(string, float64) {}

// RecordFailover implements Sink.
func (NopSink) RecordFailover(string, string) {}

// RecordRebalance implements Sink.
func (NopSink) RecordRebalance() {}
