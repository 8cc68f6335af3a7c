// Package monitoring exposes Prometheus metrics for the generation session.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session collectors.
type Metrics struct {
	// Push channel
	PushConnects   prometheus.Counter
	PushReconnects prometheus.Counter
	PushEvents     *prometheus.CounterVec // by event type

	// Poll fallback
	PollRequests *prometheus.CounterVec // by result: ok, error

	// Job
	ChunksTotal prometheus.Counter
	JobProgress prometheus.Gauge

	// Browser relay
	WSClients prometheus.Gauge
}

// NewMetrics registers the collectors with reg and returns them. Tests pass
// a fresh registry to avoid duplicate registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PushConnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "bannerforge_push_connects_total",
			Help: "Successful push channel connections",
		}),
		PushReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "bannerforge_push_reconnect_failures_total",
			Help: "Failed push channel connection attempts",
		}),
		PushEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bannerforge_push_events_total",
			Help: "Push events received",
		}, []string{"type"}),
		PollRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bannerforge_poll_requests_total",
			Help: "Status poll requests",
		}, []string{"result"}),
		ChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bannerforge_chunks_total",
			Help: "Output chunks folded into the session buffer",
		}),
		JobProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bannerforge_job_progress",
			Help: "Progress of the current generation job (0-100)",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bannerforge_ws_clients",
			Help: "Connected browser stream clients",
		}),
	}
}
