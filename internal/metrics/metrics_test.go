package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RateLimitDeny("login")
	m.RateLimitDeny("login")
	m.RiskLevel("HIGH")
	m.LockTransition(TransitionLocked, "suspicious_activity")
	m.CodeValidation("account_unlock", "success")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RateLimitDenied.WithLabelValues("login")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RiskLevels.WithLabelValues("HIGH")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LockTransitions.WithLabelValues(TransitionLocked, "suspicious_activity")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CodeValidations.WithLabelValues("account_unlock", "success")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RateLimitDeny("login")
		m.RiskLevel("LOW")
		m.LockTransition(TransitionUnlocked, "administrative")
		m.CodeValidation("email_verification", "invalid")
		m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
	})
}

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.ObserveRequest(http.MethodPost, "/api/v1/codes", http.StatusAccepted, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="POST",path="/api/v1/codes",status="202"} 1`)
}
