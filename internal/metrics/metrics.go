// Package metrics holds the Prometheus collectors for the protection subsystem.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lock transitions
const (
	TransitionLocked   = "locked"
	TransitionUnlocked = "unlocked"
	TransitionExpired  = "expired"
)

type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimitDenied *prometheus.CounterVec
	RiskLevels      *prometheus.CounterVec
	LockTransitions *prometheus.CounterVec
	CodeValidations *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		RateLimitDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protection_rate_limit_denied_total",
				Help: "Requests denied by the rate limiter.",
			},
			[]string{"action"},
		),
		RiskLevels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protection_risk_level_total",
				Help: "Scored login events by risk level.",
			},
			[]string{"level"},
		),
		LockTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protection_lock_transitions_total",
				Help: "Account lock state transitions.",
			},
			[]string{"transition", "reason"},
		),
		CodeValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protection_code_validations_total",
				Help: "Secret code validations by purpose and outcome.",
			},
			[]string{"purpose", "outcome"},
		),
	}

	registry.MustRegister(m.RequestCount, m.RequestDuration, m.RateLimitDenied,
		m.RiskLevels, m.LockTransitions, m.CodeValidations)
	return m
}

// Handler exposes the registry for scraping
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so services can run without metrics in tests.

func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.RequestCount.WithLabelValues(method, path, code).Inc()
	m.RequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}

func (m *Metrics) RateLimitDeny(action string) {
	if m == nil {
		return
	}
	m.RateLimitDenied.WithLabelValues(action).Inc()
}

func (m *Metrics) RiskLevel(level string) {
	if m == nil {
		return
	}
	m.RiskLevels.WithLabelValues(level).Inc()
}

func (m *Metrics) LockTransition(transition, reason string) {
	if m == nil {
		return
	}
	m.LockTransitions.WithLabelValues(transition, reason).Inc()
}

func (m *Metrics) CodeValidation(purpose, outcome string) {
	if m == nil {
		return
	}
	m.CodeValidations.WithLabelValues(purpose, outcome).Inc()
}
