// Package metrics exposes broadcast counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	dispatches       *prometheus.CounterVec
	endpointsSent    prometheus.Counter
	endpointsFailed  prometheus.Counter
	endpointsSkipped prometheus.Counter
	endpointsPruned  prometheus.Counter
	dispatchDuration prometheus.Histogram
	registrations    prometheus.Counter
	unregistrations  prometheus.Counter
}

// New registers the collectors on a dedicated registry, so multiple
// instances (one per test) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webpush_dispatches_total",
			Help: "Number of broadcast dispatches by result",
		}, []string{"result"}),
		endpointsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "webpush_endpoints_sent_total",
			Help: "Total number of endpoints a notification was delivered to",
		}),
		endpointsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "webpush_endpoints_failed_total",
			Help: "Total number of endpoint deliveries that failed",
		}),
		endpointsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "webpush_endpoints_skipped_total",
			Help: "Total number of stale index entries skipped and healed",
		}),
		endpointsPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "webpush_endpoints_pruned_total",
			Help: "Total number of subscriptions removed after 404/410",
		}),
		dispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "webpush_dispatch_duration_seconds",
			Help:    "Wall time of a full broadcast",
			Buckets: prometheus.DefBuckets,
		}),
		registrations: f.NewCounter(prometheus.CounterOpts{
			Name: "webpush_registrations_total",
			Help: "Total number of subscription registrations",
		}),
		unregistrations: f.NewCounter(prometheus.CounterOpts{
			Name: "webpush_unregistrations_total",
			Help: "Total number of subscription removals requested by clients",
		}),
	}
}

// Handler serves the exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Dispatched(res notification.DispatchResult, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues("ok").Inc()
	m.endpointsSent.Add(float64(res.Sent))
	m.endpointsFailed.Add(float64(res.Failed))
	m.endpointsSkipped.Add(float64(res.Skipped))
	m.dispatchDuration.Observe(took.Seconds())
}

func (m *Metrics) DispatchFailed() {
	if m != nil {
		m.dispatches.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) Pruned() {
	if m != nil {
		m.endpointsPruned.Inc()
	}
}

func (m *Metrics) Registered() {
	if m != nil {
		m.registrations.Inc()
	}
}

func (m *Metrics) Unregistered() {
	if m != nil {
		m.unregistrations.Inc()
	}
}
