package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/BradenHooton/loanguard/internal/services"
	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
	pkglogger "github.com/BradenHooton/loanguard/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// ProtectionService is the inbound surface the handlers drive
type ProtectionService interface {
	RequestCode(ctx context.Context, userID string, purpose models.CodePurpose) (*services.CodeRequestResult, error)
	ValidateCode(ctx context.Context, userID string, purpose models.CodePurpose, code string) error
	UnlockWithCode(ctx context.Context, email, code string) (*models.AccountLockRecord, error)
	CompletePasswordChange(ctx context.Context, userID string) error
	RecordLoginOutcome(ctx context.Context, outcome services.LoginOutcome) (*services.LoginOutcomeResult, error)
	CheckRateLimit(ctx context.Context, identity, action string) (*models.RateLimitDecision, error)
	GetLockStatus(ctx context.Context, userID string) (*models.LockStatus, error)
}

const codeRequestedMessage = "If the account exists, a code has been sent"

// ProtectionHandler handles code, unlock and login outcome requests
type ProtectionHandler struct {
	service  ProtectionService
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
	env      string
	now      func() time.Time
}

// NewProtectionHandler creates a new ProtectionHandler
func NewProtectionHandler(service ProtectionService, ipConfig *pkghttp.IPConfig, logger *slog.Logger, env string) *ProtectionHandler {
	return &ProtectionHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
		env:      env,
		now:      time.Now,
	}
}

// RequestCode handles POST /api/v1/codes. The response is the same whether
// or not the user exists.
func (h *ProtectionHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req RequestCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	purpose := models.CodePurpose(req.Purpose)
	if !h.allowSubject(w, r, "user:"+req.UserID, actionForPurpose(purpose)) {
		return
	}

	result, err := h.service.RequestCode(r.Context(), req.UserID, purpose)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.logger.InfoContext(r.Context(), "code requested for unknown user", slog.String("purpose", req.Purpose))
			pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: codeRequestedMessage})
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "code issued",
		slog.String("user_id", req.UserID),
		slog.String("purpose", req.Purpose),
		slog.Time("expires_at", result.ExpiresAt),
	)
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: codeRequestedMessage})
}

// ValidateCode handles POST /api/v1/codes/validate
func (h *ProtectionHandler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	var req ValidateCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	purpose := models.CodePurpose(req.Purpose)
	if !h.allowSubject(w, r, "user:"+req.UserID, actionForPurpose(purpose)) {
		return
	}

	if err := h.service.ValidateCode(r.Context(), req.UserID, purpose, strings.ToUpper(req.Code)); err != nil {
		writeCodeError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ValidateCodeResponse{Valid: true, Purpose: req.Purpose})
}

// Unlock handles POST /api/v1/unlock
func (h *ProtectionHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !h.allowSubject(w, r, "email:"+email, services.ActionUnlock) {
		return
	}

	lock, err := h.service.UnlockWithCode(r.Context(), email, strings.ToUpper(req.Code))
	if err != nil {
		h.logger.WarnContext(r.Context(), "self-service unlock failed",
			pkglogger.RedactedAttr("email", email, h.env),
			slog.Any("error", err),
		)
		writeCodeError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UnlockResponse{Unlocked: true, UnlockedAt: lock.UnlockedAt})
}

// RecordLoginOutcome handles POST /api/v1/login-outcomes
func (h *ProtectionHandler) RecordLoginOutcome(w http.ResponseWriter, r *http.Request) {
	var req LoginOutcomeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	outcome := services.LoginOutcome{
		UserID:    req.UserID,
		Success:   *req.Success,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}
	if outcome.IPAddress == "" {
		outcome.IPAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	if outcome.UserAgent == "" {
		outcome.UserAgent = r.UserAgent()
	}

	result, err := h.service.RecordLoginOutcome(r.Context(), outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// PasswordChanged handles POST /api/v1/users/{id}/password-changed
func (h *ProtectionHandler) PasswordChanged(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	if err := h.service.CompletePasswordChange(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetLockStatus handles GET /api/v1/users/{id}/lock-status
func (h *ProtectionHandler) GetLockStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	status, err := h.service.GetLockStatus(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := LockStatusResponse{LockStatus: status}
	if status.State == models.StateLocked && status.Lock != nil {
		if remaining := status.Lock.ExpiresAt.Sub(h.now()); remaining > 0 {
			resp.RetryAfter = pkghttp.RetryAfterSeconds(remaining)
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// CheckRateLimit handles POST /api/v1/rate-limit/check
func (h *ProtectionHandler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req RateLimitCheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	identity := req.Identity
	if identity == "" {
		identity = pkghttp.ExtractClientIP(r, h.ipConfig)
	}

	decision, err := h.service.CheckRateLimit(r.Context(), identity, req.Action)
	if decision != nil {
		pkghttp.SetRateLimitHeaders(w, decision.Limit, decision.Remaining, decision.ResetAt)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RateLimitCheckResponse{
		Allowed:   decision.Allowed,
		Limit:     decision.Limit,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
	})
}

// allowSubject applies the per-subject limit on top of the per-IP one.
// Each endpoint keeps its own bucket per subject. A limiter outage lets
// the request through.
func (h *ProtectionHandler) allowSubject(w http.ResponseWriter, r *http.Request, subject, action string) bool {
	_, err := h.service.CheckRateLimit(r.Context(), subject+"|"+pkghttp.EndpointKey(r), action)
	if err == nil {
		return true
	}

	if errors.Is(err, models.ErrRateLimited) {
		retryAfter, _ := models.RetryAfter(err)
		pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", retryAfter)
		return false
	}

	h.logger.WarnContext(r.Context(), "subject rate limit unavailable, allowing request",
		slog.String("action", action),
		slog.Any("error", err),
	)
	return true
}

func actionForPurpose(purpose models.CodePurpose) string {
	switch purpose {
	case models.PurposeAccountUnlock:
		return services.ActionUnlock
	case models.PurposePasswordRecovery:
		return services.ActionRecovery
	default:
		return services.ActionVerification
	}
}

// decodeAndValidate writes a 400 and returns false when the body is unusable
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}
