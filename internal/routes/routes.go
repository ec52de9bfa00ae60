package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/loanguard/internal/auth"
	"github.com/BradenHooton/loanguard/internal/handlers"
	"github.com/BradenHooton/loanguard/internal/middleware"
	"github.com/BradenHooton/loanguard/internal/services"
	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds what the route table needs
type Dependencies struct {
	Protection    *handlers.ProtectionHandler
	Admin         *handlers.AdminHandler
	Limiter       middleware.RateLimitChecker
	TokenVerifier *auth.TokenVerifier
	UserRepo      auth.UserRepository
	IPConfig      *pkghttp.IPConfig
	Logger        *slog.Logger
}

// RegisterRoutes registers all application routes under /api/v1
func RegisterRoutes(router chi.Router, deps Dependencies) {
	ipLimit := func(action string) func(http.Handler) http.Handler {
		return middleware.ProtectionRateLimit(deps.Limiter, action, deps.IPConfig, deps.Logger)
	}

	router.Route("/api/v1", func(r chi.Router) {
		// Code and unlock routes are charged per client IP and endpoint; the
		// handlers add a per-subject limit on top
		r.With(ipLimit(services.ActionVerification)).Post("/codes", deps.Protection.RequestCode)
		r.With(ipLimit(services.ActionVerification)).Post("/codes/validate", deps.Protection.ValidateCode)
		r.With(ipLimit(services.ActionUnlock)).Post("/unlock", deps.Protection.Unlock)

		// Called by the login flow on every attempt, so only the flood guard applies
		r.Post("/login-outcomes", deps.Protection.RecordLoginOutcome)
		r.Post("/rate-limit/check", deps.Protection.CheckRateLimit)

		r.Get("/users/{id}/lock-status", deps.Protection.GetLockStatus)
		r.Post("/users/{id}/password-changed", deps.Protection.PasswordChanged)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(deps.TokenVerifier))
			r.Use(auth.RequireRole(deps.UserRepo, auth.RoleAdmin, deps.Logger))

			r.Post("/admin/users/{id}/unlock", deps.Admin.ForceUnlock)
			r.Post("/admin/users/{id}/lock", deps.Admin.LockAccount)
			r.Get("/admin/users/{id}/audit", deps.Admin.GetAuditTrail)
		})
	})
}
