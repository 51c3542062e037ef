package factory

import (
	"github.com/lychee-technology/eav/internal"
	"github.com/prometheus/client_golang/prometheus"
)

// EnablePrometheusMetrics registers query latency, row count and schema
// cache metrics on reg and routes every entity manager's measurements to them.
func EnablePrometheusMetrics(reg prometheus.Registerer) {
	internal.RegisterTelemetryEmitter(internal.NewPrometheusEmitter(reg).Emit)
}

// DisableMetrics restores the no-op telemetry emitter.
func DisableMetrics() {
	internal.RegisterTelemetryEmitter(nil)
}
