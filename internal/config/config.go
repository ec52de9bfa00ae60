package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/joho/godotenv"
)

// Rate limiter backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Notification providers
const (
	EmailProviderSES = "ses"
	EmailProviderLog = "log"
)

type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Auth       AuthConfig
	Redis      RedisConfig
	Protection ProtectionConfig
	RateLimits map[string]models.RateLimitRule
	Email      EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	TrustedProxies []string
	// FloodLimit is the coarse per-IP request budget per minute across all routes
	FloodLimit int
}

type AuthConfig struct {
	JWTSecret string
}

type RedisConfig struct {
	Backend  string
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type ProtectionConfig struct {
	MaxFailedLogins         int
	FailedLoginLockDuration time.Duration
	SuspiciousLockDuration  time.Duration
	UnlockMaxAttempts       int
	GeoLookupURL            string
	GeoLookupTimeout        time.Duration
	NotifyTimeout           time.Duration
	RiskHistoryLimit        int
	CodeHashCost            int
	CleanupInterval         time.Duration
	CodeRetention           time.Duration
}

type EmailConfig struct {
	Provider    string
	AWSRegion   string
	FromAddress string
}

// rateLimitDefaults per action: points, window, block
var rateLimitDefaults = map[string]models.RateLimitRule{
	"login":        {Points: 5, Window: time.Minute, Block: 5 * time.Minute},
	"recovery":     {Points: 3, Window: time.Hour, Block: time.Hour},
	"unlock":       {Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
	"verification": {Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "loanguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			FloodLimit:     getEnvAsInt("FLOOD_GUARD_RPM", 300),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
		Redis: RedisConfig{
			Backend:  strings.ToLower(getEnv("RATE_LIMIT_BACKEND", BackendMemory)),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "loanguard:rl:"),
		},
		Protection: ProtectionConfig{
			MaxFailedLogins:         getEnvAsInt("LOCK_MAX_FAILED_LOGINS", 5),
			FailedLoginLockDuration: getEnvAsDuration("LOCK_FAILED_LOGIN_DURATION", 30*time.Minute),
			SuspiciousLockDuration:  getEnvAsDuration("LOCK_SUSPICIOUS_DURATION", 24*time.Hour),
			UnlockMaxAttempts:       getEnvAsInt("UNLOCK_MAX_ATTEMPTS", 3),
			GeoLookupURL:            getEnv("GEO_LOOKUP_URL", "http://ip-api.com/json"),
			GeoLookupTimeout:        getEnvAsDuration("GEO_LOOKUP_TIMEOUT", 2*time.Second),
			NotifyTimeout:           getEnvAsDuration("NOTIFY_TIMEOUT", 5*time.Second),
			RiskHistoryLimit:        getEnvAsInt("RISK_HISTORY_LIMIT", 10),
			CodeHashCost:            getEnvAsInt("CODE_HASH_COST", 10),
			CleanupInterval:         getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			CodeRetention:           getEnvAsDuration("CODE_RETENTION", 7*24*time.Hour),
		},
		RateLimits: loadRateLimits(),
		Email: EmailConfig{
			Provider:    strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderLog)),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Redis.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q (got %q)", BackendMemory, BackendRedis, c.Redis.Backend)
	}

	switch c.Email.Provider {
	case EmailProviderLog:
	case EmailProviderSES:
		if c.Email.FromAddress == "" {
			return fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_PROVIDER=ses")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q (got %q)", EmailProviderSES, EmailProviderLog, c.Email.Provider)
	}

	if c.Protection.MaxFailedLogins <= 0 || c.Protection.UnlockMaxAttempts <= 0 {
		return fmt.Errorf("LOCK_MAX_FAILED_LOGINS and UNLOCK_MAX_ATTEMPTS must be positive")
	}

	for action, rule := range c.RateLimits {
		if rule.Points <= 0 || rule.Window <= 0 || rule.Block < 0 {
			return fmt.Errorf("invalid rate limit rule for %s: points and window must be positive", action)
		}
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info
func (c *ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadRateLimits reads RATE_LIMIT_<ACTION>_POINTS|_WINDOW|_BLOCK overrides.
// Window and block accept Go durations or bare seconds.
func loadRateLimits() map[string]models.RateLimitRule {
	rules := make(map[string]models.RateLimitRule, len(rateLimitDefaults))
	for action, def := range rateLimitDefaults {
		prefix := "RATE_LIMIT_" + strings.ToUpper(action)
		rules[action] = models.RateLimitRule{
			Points: getEnvAsInt(prefix+"_POINTS", def.Points),
			Window: getEnvAsSeconds(prefix+"_WINDOW", def.Window),
			Block:  getEnvAsSeconds(prefix+"_BLOCK", def.Block),
		}
	}
	return rules
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSeconds(key string, defaultVal time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return getEnvAsDuration(key, defaultVal)
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := getEnvAsList("ALLOWED_ORIGINS")
		if origins == nil {
			return []string{} // Default to no origins in production
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
