package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/loanguard/internal/auth"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/BradenHooton/loanguard/internal/services"
	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAdminContext adds admin claims to the request context
func WithAdminContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Role:   auth.RoleAdmin,
		Type:   "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockProtectionService implements ProtectionService and AdminProtectionService for testing
type MockProtectionService struct {
	RequestCodeFunc            func(ctx context.Context, userID string, purpose models.CodePurpose) (*services.CodeRequestResult, error)
	ValidateCodeFunc           func(ctx context.Context, userID string, purpose models.CodePurpose, code string) error
	UnlockWithCodeFunc         func(ctx context.Context, email, code string) (*models.AccountLockRecord, error)
	CompletePasswordChangeFunc func(ctx context.Context, userID string) error
	RecordLoginOutcomeFunc     func(ctx context.Context, outcome services.LoginOutcome) (*services.LoginOutcomeResult, error)
	CheckRateLimitFunc         func(ctx context.Context, identity, action string) (*models.RateLimitDecision, error)
	GetLockStatusFunc          func(ctx context.Context, userID string) (*models.LockStatus, error)
	ForceUnlockFunc            func(ctx context.Context, userID, adminID string) (*models.AccountLockRecord, error)
	LockAccountFunc            func(ctx context.Context, userID, adminID string, reason models.LockReason, duration time.Duration) (*models.AccountLockRecord, error)
	GetAuditTrailFunc          func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

func (m *MockProtectionService) RequestCode(ctx context.Context, userID string, purpose models.CodePurpose) (*services.CodeRequestResult, error) {
	if m.RequestCodeFunc == nil {
		return &services.CodeRequestResult{Purpose: purpose, ExpiresAt: time.Now().Add(15 * time.Minute)}, nil
	}
	return m.RequestCodeFunc(ctx, userID, purpose)
}

func (m *MockProtectionService) ValidateCode(ctx context.Context, userID string, purpose models.CodePurpose, code string) error {
	if m.ValidateCodeFunc == nil {
		return models.ErrInvalidCode
	}
	return m.ValidateCodeFunc(ctx, userID, purpose, code)
}

func (m *MockProtectionService) UnlockWithCode(ctx context.Context, email, code string) (*models.AccountLockRecord, error) {
	if m.UnlockWithCodeFunc == nil {
		return nil, models.ErrInvalidCode
	}
	return m.UnlockWithCodeFunc(ctx, email, code)
}

func (m *MockProtectionService) CompletePasswordChange(ctx context.Context, userID string) error {
	if m.CompletePasswordChangeFunc == nil {
		return nil
	}
	return m.CompletePasswordChangeFunc(ctx, userID)
}

func (m *MockProtectionService) RecordLoginOutcome(ctx context.Context, outcome services.LoginOutcome) (*services.LoginOutcomeResult, error) {
	if m.RecordLoginOutcomeFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RecordLoginOutcomeFunc(ctx, outcome)
}

func (m *MockProtectionService) CheckRateLimit(ctx context.Context, identity, action string) (*models.RateLimitDecision, error) {
	if m.CheckRateLimitFunc == nil {
		return &models.RateLimitDecision{Allowed: true, Limit: 5, Remaining: 4}, nil
	}
	return m.CheckRateLimitFunc(ctx, identity, action)
}

func (m *MockProtectionService) GetLockStatus(ctx context.Context, userID string) (*models.LockStatus, error) {
	if m.GetLockStatusFunc == nil {
		return &models.LockStatus{UserID: userID, State: models.StateActive}, nil
	}
	return m.GetLockStatusFunc(ctx, userID)
}

func (m *MockProtectionService) ForceUnlock(ctx context.Context, userID, adminID string) (*models.AccountLockRecord, error) {
	if m.ForceUnlockFunc == nil {
		return nil, models.ErrNoActiveLock
	}
	return m.ForceUnlockFunc(ctx, userID, adminID)
}

func (m *MockProtectionService) LockAccount(ctx context.Context, userID, adminID string, reason models.LockReason, duration time.Duration) (*models.AccountLockRecord, error) {
	if m.LockAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.LockAccountFunc(ctx, userID, adminID, reason, duration)
}

func (m *MockProtectionService) GetAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if m.GetAuditTrailFunc == nil {
		return []*models.AuditLog{}, nil
	}
	return m.GetAuditTrailFunc(ctx, userID, limit, offset)
}
