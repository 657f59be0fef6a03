package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RelayCalls        *prometheus.CounterVec
	RelayCallDuration *prometheus.HistogramVec
	ChunkBytes        *prometheus.CounterVec
	RepairAttempts    *prometheus.CounterVec
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RelayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_calls_total",
			Help: "Relay transport calls by operation and outcome.",
		}, []string{"op", "outcome"}),

		RelayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_call_duration_seconds",
			Help:    "Relay transport call latency, including the per-credential throttle wait.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op"}),

		ChunkBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunk_bytes_total",
			Help: "Chunk payload bytes moved through the gateway.",
		}, []string{"direction"}),

		RepairAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunk_repair_attempts_total",
			Help: "Blob reference repair attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns a gin handler serving the /metrics endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
