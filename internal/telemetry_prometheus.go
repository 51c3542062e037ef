package internal

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusEmitter turns telemetry measurements into Prometheus metrics.
type PrometheusEmitter struct {
	queryLatency *prometheus.HistogramVec
	queryRows    *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
}

// NewPrometheusEmitter registers the metrics on reg.
func NewPrometheusEmitter(reg prometheus.Registerer) *PrometheusEmitter {
	factory := promauto.With(reg)
	return &PrometheusEmitter{
		queryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eav_query_duration_seconds",
				Help:    "Duration of attribute layer statements in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		queryRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eav_query_rows_total",
				Help: "Total number of entities returned by queries",
			},
			[]string{"entity_type"},
		),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "eav_schema_cache_hits_total",
			Help: "Total number of schema cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "eav_schema_cache_misses_total",
			Help: "Total number of schema cache misses",
		}),
	}
}

// Emit satisfies TelemetryEmitter; register it with RegisterTelemetryEmitter(e.Emit).
func (e *PrometheusEmitter) Emit(_ context.Context, name string, labels map[string]string, value any) {
	switch name {
	case MetricQueryLatency:
		if ms, ok := value.(int64); ok {
			e.queryLatency.WithLabelValues(labels["operation"]).Observe(float64(ms) / 1000)
		}
	case MetricQueryRows:
		if rows, ok := value.(int64); ok {
			e.queryRows.WithLabelValues(labels["entity_type"]).Add(float64(rows))
		}
	case MetricCacheLookup:
		if labels["hit"] == "true" {
			e.cacheHits.Inc()
		} else {
			e.cacheMisses.Inc()
		}
	}
}
