// Package metrics exposes Prometheus collectors for HTTP traffic and the order lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "quickprint"

// Metrics holds every collector registered by the API.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	ordersInitiated      *prometheus.CounterVec
	paymentVerifications *prometheus.CounterVec
	statusTransitions    *prometheus.CounterVec
	draftsExpired        prometheus.Counter
	orderValue           *prometheus.HistogramVec
	pagesEstimated       *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry together with the Go and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		ordersInitiated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "initiated_total",
				Help:      "Order initiation attempts by gateway and outcome",
			},
			[]string{"provider", "outcome"},
		),
		paymentVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "payment_verifications_total",
				Help:      "Payment confirmation attempts by outcome",
			},
			[]string{"outcome"},
		),
		statusTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "status_transitions_total",
				Help:      "Applied production status transitions",
			},
			[]string{"from", "to"},
		),
		draftsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "drafts",
				Name:      "expired_total",
				Help:      "Drafts reclaimed by the sweeper without payment",
			},
		),
		orderValue: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "value",
				Help:      "Confirmed order value in major currency units",
				Buckets:   []float64{2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"service_type"},
		),
		pagesEstimated: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "files",
				Name:      "pages",
				Help:      "Estimated page counts of uploaded files",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 250},
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
		m.ordersInitiated,
		m.paymentVerifications,
		m.statusTransitions,
		m.draftsExpired,
		m.orderValue,
		m.pagesEstimated,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// OrderInitiated counts an initiation attempt.
func (m *Metrics) OrderInitiated(provider, outcome string) {
	m.ordersInitiated.WithLabelValues(labelOrUnknown(provider), outcome).Inc()
}

// PaymentVerified counts a confirmation attempt.
func (m *Metrics) PaymentVerified(outcome string) {
	m.paymentVerifications.WithLabelValues(outcome).Inc()
}

// OrderConfirmed records the value of a persisted order.
func (m *Metrics) OrderConfirmed(serviceType string, value float64) {
	m.orderValue.WithLabelValues(labelOrUnknown(serviceType)).Observe(value)
}

// StatusChanged counts an applied transition.
func (m *Metrics) StatusChanged(from, to string) {
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// DraftExpired counts a draft removed by the sweeper.
func (m *Metrics) DraftExpired() {
	m.draftsExpired.Inc()
}

// PagesEstimated records a page estimate for the given file kind.
func (m *Metrics) PagesEstimated(kind string, pages int) {
	m.pagesEstimated.WithLabelValues(labelOrUnknown(kind)).Observe(float64(pages))
}

// routeLabel uses the matched chi pattern so ids never become label values.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
