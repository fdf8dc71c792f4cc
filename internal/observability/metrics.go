package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Flow and provider call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Metrics holds the prometheus collectors for flows and provider calls.
type Metrics struct {
	registry      *prometheus.Registry
	flowRuns      *prometheus.CounterVec
	flowDuration  *prometheus.HistogramVec
	providerCalls *prometheus.CounterVec
	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		flowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "case_flow_runs_total",
			Help: "Case flows run, by flow and outcome.",
		}, []string{"flow", "outcome"}),
		flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "case_flow_duration_seconds",
			Help:    "Case flow wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "case_provider_calls_total",
			Help: "Capability provider calls, by kind, operation and outcome.",
		}, []string{"kind", "operation", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "case_http_requests_total",
			Help: "HTTP requests, by method and status.",
		}, []string{"method", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "case_http_errors_total",
			Help: "HTTP error responses, by route, method and error code.",
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(m.flowRuns, m.flowDuration, m.providerCalls, m.requests, m.errors)
	m.registry.MustRegister(prometheus.NewGoCollector())
	return m
}

// Registry exposes the gatherer for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFlow counts a finished flow.
func (m *Metrics) RecordFlow(flow string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.flowRuns.WithLabelValues(flow, outcome).Inc()
	m.flowDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

// RecordProviderCall counts a capability provider call.
func (m *Metrics) RecordProviderCall(kind, operation, outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(kind, operation, outcome).Inc()
}

// RecordRequest counts an HTTP request.
func (m *Metrics) RecordRequest(method, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, status).Inc()
}

// RecordError counts an error response. route is the route pattern, not the raw path.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}
