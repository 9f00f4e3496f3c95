package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver so callers never need to check
// whether metrics are enabled.
type Metrics struct {
	Registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	bestEffort    *prometheus.CounterVec
	billingEvents *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := &Metrics{
		Registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskboard_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_task_transitions_total",
			Help: "Task operations by name and outcome.",
		}, []string{"op", "outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_auth_failures_total",
			Help: "Rejected requests by reason.",
		}, []string{"reason"}),
		bestEffort: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_best_effort_total",
			Help: "Background side effects by kind and outcome.",
		}, []string{"kind", "outcome"}),
		billingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_billing_events_total",
			Help: "Payment provider webhook events by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.requests, m.latency, m.transitions, m.authFailures, m.bestEffort, m.billingEvents)
	return m
}

func (m *Metrics) Request(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Transition counts a task operation; err nil means ok.
func (m *Metrics) Transition(op string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// BestEffort counts a detached side effect such as a key touch or e-mail.
func (m *Metrics) BestEffort(kind string, err error) {
	if m == nil {
		return
	}
	m.bestEffort.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) BillingEvent(eventType string) {
	if m == nil {
		return
	}
	m.billingEvents.WithLabelValues(eventType).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
