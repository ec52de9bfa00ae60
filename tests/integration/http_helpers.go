//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BradenHooton/loanguard/internal/auth"
	"github.com/BradenHooton/loanguard/internal/database"
	"github.com/BradenHooton/loanguard/internal/handlers"
	"github.com/BradenHooton/loanguard/internal/metrics"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/BradenHooton/loanguard/internal/repositories"
	"github.com/BradenHooton/loanguard/internal/routes"
	"github.com/BradenHooton/loanguard/internal/services"
)

const testJWTSecret = "integration-secret-32-characters!!"

// SentNotification is a captured message
type SentNotification struct {
	Kind      services.NotificationType
	Recipient string
	Payload   services.NotificationPayload
}

// CapturingNotifier records notifications so tests can read issued codes
type CapturingNotifier struct {
	mu   sync.Mutex
	sent []SentNotification
}

func (n *CapturingNotifier) Notify(ctx context.Context, kind services.NotificationType, recipient string, payload services.NotificationPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, SentNotification{Kind: kind, Recipient: recipient, Payload: payload})
	return nil
}

// Last returns the most recent notification of kind, or nil
func (n *CapturingNotifier) Last(kind services.NotificationType) *SentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return &n.sent[i]
		}
	}
	return nil
}

// TestServer wraps httptest.Server with the real service graph over Postgres
type TestServer struct {
	Server   *httptest.Server
	Repos    *Repositories
	Notifier *CapturingNotifier
}

// NewTestServer wires every component the way cmd/api does, minus SES and geolocation
func NewTestServer(t *testing.T, db *database.DB) *TestServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	repos := InitializeRepositories(db)
	notifier := &CapturingNotifier{}

	auditService := services.NewAuditService(repos.Audit, logger)
	codeService := services.NewSecretCodeService(repos.Codes, notifier, auditService, m, logger, services.SecretCodeConfig{
		HashCost:      4,
		NotifyTimeout: time.Second,
	})
	riskScorer := services.NewRiskScorer(nil, time.Second, logger)
	limiter := services.NewRateLimitService(repositories.NewMemoryBucketStore(time.Minute), services.RateLimitConfig{}, m, logger)
	lockService := services.NewAccountLockService(repos.Locks, repos.States, repos.Events, codeService, notifier, auditService, m, logger,
		services.DefaultAccountLockConfig())
	protection := services.NewAccountProtectionService(repos.Users, repos.States, repos.Events,
		codeService, riskScorer, limiter, lockService, auditService, m, logger, services.DefaultProtectionConfig())

	router := chi.NewRouter()
	routes.RegisterRoutes(router, routes.Dependencies{
		Protection:    handlers.NewProtectionHandler(protection, nil, logger, "test"),
		Admin:         handlers.NewAdminHandler(protection, logger),
		Limiter:       protection,
		TokenVerifier: auth.NewTokenVerifier(testJWTSecret),
		UserRepo:      repos.Users,
		Logger:        logger,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestServer{Server: server, Repos: repos, Notifier: notifier}
}

// PostJSON sends body to path and decodes the response into out when non-nil
func (s *TestServer) PostJSON(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}

	resp, err := http.Post(s.Server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s response: %v", path, err)
		}
	}
	return resp
}

// GetLockStatus reads the lock status endpoint
func (s *TestServer) GetLockStatus(t *testing.T, userID string) *handlers.LockStatusResponse {
	t.Helper()

	resp, err := http.Get(s.Server.URL + "/api/v1/users/" + userID + "/lock-status")
	if err != nil {
		t.Fatalf("GET lock-status failed: %v", err)
	}
	defer resp.Body.Close()

	var status handlers.LockStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode lock status: %v", err)
	}
	if status.LockStatus == nil {
		status.LockStatus = &models.LockStatus{}
	}
	return &status
}
