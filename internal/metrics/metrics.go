package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	admissions    *prometheus.CounterVec
	generations   *prometheus.CounterVec
	billingEvents *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drumgen",
			Name:      "admissions_total",
			Help:      "Generation admission decisions by result",
		}, []string{"result"}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drumgen",
			Name:      "generations_total",
			Help:      "Completed generations by audio source",
		}, []string{"source"}),
		billingEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drumgen",
			Name:      "billing_events_total",
			Help:      "Billing webhook events by kind and outcome",
		}, []string{"kind", "outcome"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "drumgen",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Nil-safe recorders so callers can run without metrics in tests.

func (m *Metrics) Admission(allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Generation(source string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(source).Inc()
}

func (m *Metrics) BillingEvent(kind, outcome string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.billingEvents.WithLabelValues(kind, outcome).Inc()
}

// Middleware observes request latency labelled by the matched chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
