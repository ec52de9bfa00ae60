package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/loanguard/internal/auth"
	"github.com/BradenHooton/loanguard/internal/background"
	"github.com/BradenHooton/loanguard/internal/config"
	"github.com/BradenHooton/loanguard/internal/database"
	"github.com/BradenHooton/loanguard/internal/handlers"
	"github.com/BradenHooton/loanguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/loanguard/internal/middleware"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/BradenHooton/loanguard/internal/repositories"
	"github.com/BradenHooton/loanguard/internal/routes"
	"github.com/BradenHooton/loanguard/internal/services"
	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()})).
		With(slog.String("service", "loanguard"), slog.String("env", cfg.Server.Env))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("rate_limit_backend", cfg.Redis.Backend),
		slog.String("email_provider", cfg.Email.Provider),
	)

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)
	codeRepo := repositories.NewSecretCodeRepository(db)
	lockRepo := repositories.NewAccountLockRepository(db)
	stateRepo := repositories.NewSecurityStateRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Rate limit buckets: process memory or shared redis
	var (
		bucketStore   services.BucketStore
		memoryBuckets *repositories.MemoryBucketStore
		redisClient   *redis.Client
	)
	switch cfg.Redis.Backend {
	case config.BackendRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		redisStore := repositories.NewRedisBucketStore(redisClient, cfg.Redis.Prefix)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisStore.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup, rate limiter will fail open", slog.Any("error", err))
		}
		cancel()
		bucketStore = redisStore
	default:
		memoryBuckets = repositories.NewMemoryBucketStore(time.Minute)
		bucketStore = memoryBuckets
	}

	// Notification collaborator
	var notifier services.Notifier
	switch cfg.Email.Provider {
	case config.EmailProviderSES:
		sesNotifier, err := services.NewAWSSESNotifier(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	default:
		notifier = services.NewLogNotifier(logger, cfg.Server.Env)
	}

	// Initialize services
	auditService := services.NewAuditService(auditRepo, logger)

	codeService := services.NewSecretCodeService(codeRepo, notifier, auditService, m, logger, services.SecretCodeConfig{
		HashCost:      cfg.Protection.CodeHashCost,
		NotifyTimeout: cfg.Protection.NotifyTimeout,
	})

	geoLocator := services.NewHTTPGeoLocator(cfg.Protection.GeoLookupURL, cfg.Protection.GeoLookupTimeout)
	riskScorer := services.NewRiskScorer(geoLocator, cfg.Protection.GeoLookupTimeout, logger)

	rateLimitService := services.NewRateLimitService(bucketStore, services.RateLimitConfig{Rules: cfg.RateLimits}, m, logger)

	lockService := services.NewAccountLockService(lockRepo, stateRepo, eventRepo, codeService, notifier, auditService, m, logger, services.AccountLockConfig{
		MaxFailedLogins:         cfg.Protection.MaxFailedLogins,
		FailedLoginLockDuration: cfg.Protection.FailedLoginLockDuration,
		SuspiciousLockDuration:  cfg.Protection.SuspiciousLockDuration,
		UnlockMaxAttempts:       cfg.Protection.UnlockMaxAttempts,
		NotifyTimeout:           cfg.Protection.NotifyTimeout,
	})

	protectionConfig := services.DefaultProtectionConfig()
	protectionConfig.HistoryLimit = cfg.Protection.RiskHistoryLimit
	protectionService := services.NewAccountProtectionService(
		userRepo, stateRepo, eventRepo,
		codeService, riskScorer, rateLimitService, lockService, auditService,
		m, logger, protectionConfig,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	protectionHandler := handlers.NewProtectionHandler(protectionService, ipConfig, logger, cfg.Server.Env)
	adminHandler := handlers.NewAdminHandler(protectionService, logger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Background cleanup of expired codes, and of idle buckets when held in memory
	cleaners := map[string]background.ExpiredRecordCleaner{"secret_codes": codeRepo}
	cleanupManager := background.NewCleanupManager(cleaners, logger, cfg.Protection.CleanupInterval, cfg.Protection.CodeRetention)

	var bucketCleanup *background.CleanupManager
	if memoryBuckets != nil {
		bucketCleanup = background.NewCleanupManager(
			map[string]background.ExpiredRecordCleaner{"rate_limit_buckets": memoryBuckets},
			logger, 5*time.Minute, 0,
		)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, m))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.FloodGuard(cfg.Server.FloodLimit, ipConfig))
	router.Use(middleware.Timeout(30 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		Protection:    protectionHandler,
		Admin:         adminHandler,
		Limiter:       protectionService,
		TokenVerifier: auth.NewTokenVerifier(cfg.Auth.JWTSecret),
		UserRepo:      userRepo,
		IPConfig:      ipConfig,
		Logger:        logger,
	})

	router.Handle("/metrics", metrics.Handler(registry))

	// Health check with database and, when configured, redis
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]any{"status": "healthy", "database": "up", "database_pool": db.PoolStats()}
		code := http.StatusOK

		if err := db.HealthCheck(ctx); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = "up"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				// the limiter fails open, so redis alone only degrades
				status["redis"] = "down"
				if code == http.StatusOK {
					status["status"] = "degraded"
				}
			}
		}

		pkghttp.WriteJSON(w, code, status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup tasks
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)
	if bucketCleanup != nil {
		go bucketCleanup.Start(cleanupCtx)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()
	if bucketCleanup != nil {
		bucketCleanup.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL is set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	if adminEmail == "" {
		logger.Info("no ADMIN_EMAIL set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	admin := &models.User{
		Email: adminEmail,
		Name:  "Admin",
		Role:  auth.RoleAdmin,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
