package internal

import (
	"context"
	"strconv"
	"sync"
)

// telemetry.go
// Hook layer for query and cache measurements. The default emitter is a
// no-op; processes register a real one (see PrometheusEmitter) with
// RegisterTelemetryEmitter.

// TelemetryEmitter receives one measurement.
type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

const (
	MetricQueryLatency = "eav_query_latency_ms"
	MetricQueryRows    = "eav_query_rows"
	MetricCacheLookup  = "eav_schema_cache_lookups"
)

var (
	teleMu   sync.Mutex
	teleImpl TelemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter installs fn; nil restores the no-op emitter.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emitter() TelemetryEmitter {
	teleMu.Lock()
	defer teleMu.Unlock()
	return teleImpl
}

// EmitLatency records a latency in milliseconds for an operation such as
// "select", "count" or "save".
func EmitLatency(ctx context.Context, operation string, ms int64) {
	emitter()(ctx, MetricQueryLatency, map[string]string{"operation": operation}, ms)
}

// EmitRowCount records how many rows an entity query returned.
func EmitRowCount(ctx context.Context, entityType string, rows int64) {
	emitter()(ctx, MetricQueryRows, map[string]string{"entity_type": entityType}, rows)
}

// EmitCacheLookup records a schema cache hit or miss.
func EmitCacheLookup(ctx context.Context, hit bool) {
	emitter()(ctx, MetricCacheLookup, map[string]string{"hit": strconv.FormatBool(hit)}, int64(1))
}
