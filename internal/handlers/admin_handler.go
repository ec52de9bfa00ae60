package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/loanguard/internal/auth"
	"github.com/BradenHooton/loanguard/internal/models"
	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminProtectionService defines the administrative contract
type AdminProtectionService interface {
	ForceUnlock(ctx context.Context, userID, adminID string) (*models.AccountLockRecord, error)
	LockAccount(ctx context.Context, userID, adminID string, reason models.LockReason, duration time.Duration) (*models.AccountLockRecord, error)
	GetAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 100
)

// AdminHandler handles administrative lock requests. Routes are expected to
// sit behind AuthMiddleware and RequireRole.
type AdminHandler struct {
	service AdminProtectionService
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminProtectionService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// ForceUnlock handles POST /api/v1/admin/users/{id}/unlock
func (h *AdminHandler) ForceUnlock(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetUserFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	userID := chi.URLParam(r, "id")
	lock, err := h.service.ForceUnlock(r.Context(), userID, admin.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "account force unlocked",
		slog.String("user_id", userID),
		slog.String("admin_id", admin.UserID),
	)
	pkghttp.WriteJSON(w, http.StatusOK, lock)
}

// LockAccount handles POST /api/v1/admin/users/{id}/lock
func (h *AdminHandler) LockAccount(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetUserFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req AdminLockRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	reason := models.LockReasonAdministrative
	if req.Reason != "" {
		reason = models.LockReason(req.Reason)
	}

	userID := chi.URLParam(r, "id")
	lock, err := h.service.LockAccount(r.Context(), userID, admin.UserID, reason, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "account locked by admin",
		slog.String("user_id", userID),
		slog.String("admin_id", admin.UserID),
		slog.String("reason", string(reason)),
	)
	pkghttp.WriteJSON(w, http.StatusCreated, lock)
}

// GetAuditTrail handles GET /api/v1/admin/users/{id}/audit
// Accepts ?limit=N (1–100, default 50) and ?offset=N.
func (h *AdminHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxAuditPageSize {
			limit = n
		}
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := h.service.GetAuditTrail(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditLog{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, AuditTrailResponse{Entries: entries, Limit: limit, Offset: offset})
}
