package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestServerConfig_Timeouts_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestServerConfig_Timeouts_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout with invalid value: got %v, want %v", cfg.Server.ReadTimeout, 15*time.Second)
	}
}

func TestLoad_RequiredValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "test")
	if _, err := Load(); err == nil {
		t.Error("Load() without JWT_SECRET should fail")
	}

	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "")
	if _, err := Load(); err == nil {
		t.Error("Load() without DB_PASSWORD should fail")
	}
}

func TestLoad_ProtectionDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	p := cfg.Protection
	if p.MaxFailedLogins != 5 || p.UnlockMaxAttempts != 3 || p.RiskHistoryLimit != 10 {
		t.Errorf("unexpected protection counts: %+v", p)
	}
	if p.FailedLoginLockDuration != 30*time.Minute || p.SuspiciousLockDuration != 24*time.Hour {
		t.Errorf("unexpected lock durations: %+v", p)
	}
	if p.GeoLookupTimeout != 2*time.Second || p.NotifyTimeout != 5*time.Second {
		t.Errorf("unexpected timeouts: %+v", p)
	}
	if cfg.Redis.Backend != BackendMemory || cfg.Email.Provider != EmailProviderLog {
		t.Errorf("unexpected backends: redis=%q email=%q", cfg.Redis.Backend, cfg.Email.Provider)
	}
}

func TestLoad_RateLimitRules(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_LOGIN_POINTS", "10")
	t.Setenv("RATE_LIMIT_LOGIN_WINDOW", "120")
	t.Setenv("RATE_LIMIT_RECOVERY_BLOCK", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		action string
		want   models.RateLimitRule
	}{
		{"login", models.RateLimitRule{Points: 10, Window: 2 * time.Minute, Block: 5 * time.Minute}},
		{"recovery", models.RateLimitRule{Points: 3, Window: time.Hour, Block: 2 * time.Hour}},
		{"unlock", models.RateLimitRule{Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute}},
		{"verification", models.RateLimitRule{Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute}},
	}

	for _, tt := range tests {
		if got := cfg.RateLimits[tt.action]; got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.action, got, tt.want)
		}
	}
}

func TestLoad_InvalidRateLimitRule(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_UNLOCK_POINTS", "0")

	if _, err := Load(); err == nil {
		t.Error("Load() with zero points should fail")
	}
}

func TestLoad_BackendValidation(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_BACKEND", "memcached")
	if _, err := Load(); err == nil {
		t.Error("Load() with unknown backend should fail")
	}

	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("EMAIL_PROVIDER", "ses")
	t.Setenv("EMAIL_FROM_ADDRESS", "")
	if _, err := Load(); err == nil {
		t.Error("Load() with ses and no from address should fail")
	}

	t.Setenv("EMAIL_FROM_ADDRESS", "security@example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Redis.Backend != BackendRedis || cfg.Email.Provider != EmailProviderSES {
		t.Errorf("unexpected backends: redis=%q email=%q", cfg.Redis.Backend, cfg.Email.Provider)
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	setRequired(t)
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,192.168.1.1 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[0] != "10.0.0.0/8" || cfg.Server.TrustedProxies[1] != "192.168.1.1" {
		t.Errorf("TrustedProxies = %v", cfg.Server.TrustedProxies)
	}
}

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		env     string
		wantErr bool
	}{
		{"dev ok", "sixteen-chars-ok", "development", false},
		{"dev short", "short", "development", true},
		{"prod short", "sixteen-chars-ok", "production", true},
		{"prod ok", "a-much-longer-secret-for-production-use", "production", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJWTSecret(tt.secret, tt.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateJWTSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for input, want := range tests {
		cfg := ServerConfig{LogLevel: input}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
