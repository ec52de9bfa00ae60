package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/loanguard/internal/models"
	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
)

// writeCodeError maps code validation failures on the self-service routes.
// A missing subject, an account with no lock, a wrong code and an expired
// code all produce the same response.
func writeCodeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrNoActiveLock),
		errors.Is(err, models.ErrInvalidCode),
		errors.Is(err, models.ErrExpired):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_code", "Invalid or expired code")
	default:
		writeServiceError(w, r, logger, err)
	}
}

// writeServiceError maps the protection sentinels onto HTTP statuses
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_code", "Invalid or expired code")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrCooldownActive):
		retryAfter, _ := models.RetryAfter(err)
		pkghttp.WriteRetryLater(w, "cooldown_active", "Too many attempts, try again later", retryAfter)
	case errors.Is(err, models.ErrRateLimited):
		retryAfter, _ := models.RetryAfter(err)
		pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", retryAfter)
	case errors.Is(err, models.ErrAttemptsExhausted):
		pkghttp.WriteError(w, http.StatusTooManyRequests, "attempts_exhausted", "Too many attempts, try again later")
	case errors.Is(err, models.ErrNoActiveLock):
		pkghttp.WriteError(w, http.StatusConflict, "no_active_lock", "Account is not locked")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Conflicting request")
	case errors.Is(err, models.ErrTransient):
		logger.WarnContext(r.Context(), "transient failure", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		logger.ErrorContext(r.Context(), "unexpected error", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
