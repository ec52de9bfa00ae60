package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loanguard/internal/metrics"
	"github.com/BradenHooton/loanguard/internal/models"
)

// Rate-limited actions
const (
	ActionLogin        = "login"
	ActionRecovery     = "recovery"
	ActionUnlock       = "unlock"
	ActionVerification = "verification"
)

// BucketStore holds per-key rate limit buckets.
// Update loads the bucket for key (zero value when absent), applies fn and
// stores the result atomically. fn may run more than once under contention
// and must not have side effects beyond the bucket and its own locals.
type BucketStore interface {
	Update(ctx context.Context, key string, ttl time.Duration, fn func(bucket *models.RateLimitBucket) error) error
}

// RateLimitConfig holds per-action rules
type RateLimitConfig struct {
	Rules       map[string]models.RateLimitRule
	DefaultRule models.RateLimitRule
	Clock       func() time.Time
}

// DefaultRateLimitRules are the production rules per action
func DefaultRateLimitRules() map[string]models.RateLimitRule {
	return map[string]models.RateLimitRule{
		ActionLogin:        {Points: 5, Window: time.Minute, Block: 5 * time.Minute},
		ActionRecovery:     {Points: 3, Window: time.Hour, Block: time.Hour},
		ActionUnlock:       {Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
		ActionVerification: {Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
	}
}

// RateLimitService implements fixed-window limiting with a block period
type RateLimitService struct {
	store   BucketStore
	config  RateLimitConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(store BucketStore, config RateLimitConfig, m *metrics.Metrics, logger *slog.Logger) *RateLimitService {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Rules == nil {
		config.Rules = DefaultRateLimitRules()
	}
	if config.DefaultRule.Points <= 0 {
		config.DefaultRule = config.Rules[ActionLogin]
	}
	return &RateLimitService{
		store:   store,
		config:  config,
		metrics: m,
		logger:  logger,
	}
}

// Rule returns the rule configured for action
func (s *RateLimitService) Rule(action string) models.RateLimitRule {
	if rule, ok := s.config.Rules[action]; ok {
		return rule
	}
	return s.config.DefaultRule
}

// Check consumes one point for identity under action's rule
func (s *RateLimitService) Check(ctx context.Context, identity, action string) (*models.RateLimitDecision, error) {
	if identity == "" || action == "" {
		return nil, fmt.Errorf("%w: identity and action required", models.ErrInvalidInput)
	}

	decision, err := s.Consume(ctx, action+":"+identity, s.Rule(action))
	if err != nil {
		return nil, err
	}

	if !decision.Allowed {
		s.metrics.RateLimitDeny(action)
		s.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("action", action),
			slog.String("identity", identity),
			slog.Duration("retry_after", decision.RetryAfter),
		)
	}

	return decision, nil
}

// Consume applies rule to the bucket under key.
// The window resets once it has fully elapsed, which also clears any block.
// An exhausted window starts a block for rule.Block.
func (s *RateLimitService) Consume(ctx context.Context, key string, rule models.RateLimitRule) (*models.RateLimitDecision, error) {
	if rule.Points <= 0 || rule.Window <= 0 || rule.Block < 0 {
		return nil, fmt.Errorf("%w: malformed rate limit rule", models.ErrInvalidInput)
	}

	var decision models.RateLimitDecision
	ttl := rule.Window + rule.Block

	err := s.store.Update(ctx, key, ttl, func(bucket *models.RateLimitBucket) error {
		now := s.config.Clock()

		if bucket.WindowStart.IsZero() || now.Sub(bucket.WindowStart) >= rule.Window {
			bucket.Points = rule.Points
			bucket.WindowStart = now
			bucket.BlockedUntil = nil
		}

		decision = models.RateLimitDecision{
			Limit:   rule.Points,
			ResetAt: bucket.WindowStart.Add(rule.Window),
		}

		if bucket.BlockedUntil != nil && now.Before(*bucket.BlockedUntil) {
			decision.RetryAfter = bucket.BlockedUntil.Sub(now)
			return nil
		}

		if bucket.Points <= 0 {
			until := now.Add(rule.Block)
			bucket.BlockedUntil = &until
			decision.RetryAfter = rule.Block
			if decision.RetryAfter <= 0 {
				decision.RetryAfter = decision.ResetAt.Sub(now)
			}
			return nil
		}

		bucket.Points--
		decision.Allowed = true
		decision.Remaining = bucket.Points
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit store: %v", models.ErrTransient, err)
	}

	return &decision, nil
}
