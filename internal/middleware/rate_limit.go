package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitChecker consumes one point of identity's budget for action
type RateLimitChecker interface {
	CheckRateLimit(ctx context.Context, identity, action string) (*models.RateLimitDecision, error)
}

// FloodGuard is a coarse per-IP cap in front of every route, independent of
// the per-action limiter and its store
func FloodGuard(requestsPerMinute int, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests", time.Minute)
		}),
	)
}

// ProtectionRateLimit charges the (client IP, endpoint) pair against action's
// rule and publishes the X-RateLimit-* headers. Endpoints sharing an action
// still get separate buckets. When the limiter store is unavailable the
// request is let through and the failure logged.
func ProtectionRateLimit(checker RateLimitChecker, action string, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)

			decision, err := checker.CheckRateLimit(r.Context(), ip+"|"+pkghttp.EndpointKey(r), action)
			if decision != nil {
				pkghttp.SetRateLimitHeaders(w, decision.Limit, decision.Remaining, decision.ResetAt)
			}

			if err != nil {
				if errors.Is(err, models.ErrRateLimited) {
					logger.WarnContext(r.Context(), "rate limit exceeded",
						slog.String("action", action),
						slog.String("ip_address", ip),
					)
					retryAfter, _ := models.RetryAfter(err)
					pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", retryAfter)
					return
				}

				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					slog.String("action", action),
					slog.Any("error", err),
				)
			}

			next.ServeHTTP(w, r)
		})
	}
}
