package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loanguard/internal/keylock"
	"github.com/BradenHooton/loanguard/internal/metrics"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/BradenHooton/loanguard/pkg/auth"
	"github.com/google/uuid"
)

const maxSubmittedCodeLength = 64

// SecretCodeRepository persists issued codes
type SecretCodeRepository interface {
	// GetCurrent returns the newest non-superseded code for the subject,
	// including expired and consumed ones. ErrNotFound when none exists.
	GetCurrent(ctx context.Context, subjectKey string) (*models.SecretCode, error)
	// Create stores code and supersedes every earlier code for the same subject
	Create(ctx context.Context, code *models.SecretCode) error
	Update(ctx context.Context, code *models.SecretCode) error
}

// SecretCodeConfig holds configuration for code issuance and validation
type SecretCodeConfig struct {
	HashCost      int
	NotifyTimeout time.Duration
	Clock         func() time.Time
}

// SecretCodeService issues and validates short-lived codes under a per-purpose policy.
// All operations on one subject are serialised.
type SecretCodeService struct {
	repo     SecretCodeRepository
	notifier Notifier
	audit    *AuditService
	metrics  *metrics.Metrics
	logger   *slog.Logger
	locks    *keylock.KeyLock
	config   SecretCodeConfig
}

// NewSecretCodeService creates a new SecretCodeService
func NewSecretCodeService(repo SecretCodeRepository, notifier Notifier, audit *AuditService, m *metrics.Metrics, logger *slog.Logger, config SecretCodeConfig) *SecretCodeService {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 5 * time.Second
	}
	return &SecretCodeService{
		repo:     repo,
		notifier: notifier,
		audit:    audit,
		metrics:  m,
		logger:   logger,
		locks:    keylock.New(),
		config:   config,
	}
}

// Issue generates a fresh code for subjectKey, supersedes any earlier one and
// sends it to recipient. The plaintext is returned once and never stored.
// Issuance is refused while the current code is cooling down.
func (s *SecretCodeService) Issue(ctx context.Context, subjectKey, recipient string, policy models.CodePolicy) (*models.IssuedCode, error) {
	if subjectKey == "" {
		return nil, fmt.Errorf("%w: subject key required", models.ErrInvalidInput)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(subjectKey)
	defer unlock()

	now := s.config.Clock()

	current, err := s.repo.GetCurrent(ctx, subjectKey)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: failed to load current code: %v", models.ErrTransient, err)
	}
	if current != nil && current.InCooldown(now) {
		return nil, models.NewCooldownError(current.CooldownUntil.Sub(now))
	}

	plaintext, err := auth.GenerateCode(policy.Alphabet)
	if err != nil {
		return nil, err
	}

	hash, err := auth.HashCode(plaintext, s.config.HashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	record := &models.SecretCode{
		ID:                uuid.New().String(),
		SubjectKey:        subjectKey,
		Purpose:           policy.Purpose,
		CodeHash:          hash,
		IssuedAt:          now,
		ExpiresAt:         now.Add(policy.TTL),
		MaxAttempts:       policy.MaxAttempts,
		RemainingAttempts: policy.MaxAttempts,
		Cooldown:          policy.Cooldown,
		SingleUse:         policy.SingleUse,
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: failed to store code: %v", models.ErrTransient, err)
	}

	s.logger.InfoContext(ctx, "secret code issued",
		slog.String("purpose", string(policy.Purpose)),
		slog.String("code_id", record.ID),
		slog.Time("expires_at", record.ExpiresAt),
	)
	s.audit.LogCodeEvent(ctx, models.AuditEventTypeCodeIssued, userIDFromSubject(subjectKey), record.ID, policy.Purpose, true, "")

	notifyAsync(s.notifier, s.logger, s.config.NotifyTimeout, notificationFor(policy.Purpose), recipient, NotificationPayload{
		"code":       plaintext,
		"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339),
	})

	return &models.IssuedCode{Record: record, Plaintext: plaintext}, nil
}

// Validate checks submitted against the current code for subjectKey.
// Failures are checked in order: not found, cooldown, expiry, mismatch.
// A mismatch always persists the decremented attempt counter.
func (s *SecretCodeService) Validate(ctx context.Context, subjectKey, submitted string) (*models.SecretCode, error) {
	if subjectKey == "" || submitted == "" || len(submitted) > maxSubmittedCodeLength {
		return nil, fmt.Errorf("%w: subject key and code required", models.ErrInvalidInput)
	}

	unlock := s.locks.Lock(subjectKey)
	defer unlock()

	now := s.config.Clock()

	code, err := s.repo.GetCurrent(ctx, subjectKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to load code: %v", models.ErrTransient, err)
	}
	if code.Consumed || code.SupersededAt != nil {
		return nil, models.ErrNotFound
	}

	dirty := false
	if code.CooldownUntil != nil {
		if code.InCooldown(now) {
			s.recordOutcome(ctx, code, "cooldown")
			return nil, models.NewCooldownError(code.CooldownUntil.Sub(now))
		}
		// cooldown elapsed: a fresh attempt budget
		code.CooldownUntil = nil
		code.RemainingAttempts = code.MaxAttempts
		dirty = true
	}

	if code.IsExpired(now) {
		if dirty {
			s.persist(ctx, code)
		}
		s.recordOutcome(ctx, code, "expired")
		return nil, models.ErrExpired
	}

	if !auth.CompareCode(code.CodeHash, submitted) {
		code.RemainingAttempts--
		outcome, result := "invalid", models.ErrInvalidCode
		if code.RemainingAttempts <= 0 {
			code.RemainingAttempts = 0
			until := now.Add(code.Cooldown)
			code.CooldownUntil = &until
			outcome, result = "exhausted", models.ErrAttemptsExhausted
		}

		if err := s.repo.Update(ctx, code); err != nil {
			return nil, fmt.Errorf("%w: failed to record attempt: %v", models.ErrTransient, err)
		}

		s.recordOutcome(ctx, code, outcome)
		return nil, result
	}

	if code.SingleUse {
		code.Consumed = true
		code.ConsumedAt = &now
		dirty = true
	}
	if dirty {
		if err := s.repo.Update(ctx, code); err != nil {
			return nil, fmt.Errorf("%w: failed to consume code: %v", models.ErrTransient, err)
		}
	}

	s.recordOutcome(ctx, code, "success")
	return code, nil
}

// Revoke ends the current code for subjectKey. Revoking when nothing is
// outstanding, including an expired code, is a no-op.
func (s *SecretCodeService) Revoke(ctx context.Context, subjectKey string) error {
	unlock := s.locks.Lock(subjectKey)
	defer unlock()

	code, err := s.repo.GetCurrent(ctx, subjectKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: failed to load code: %v", models.ErrTransient, err)
	}
	now := s.config.Clock()
	if !code.IsActive(now) {
		return nil
	}

	code.Consumed = true
	code.ConsumedAt = &now
	if err := s.repo.Update(ctx, code); err != nil {
		return fmt.Errorf("%w: failed to revoke code: %v", models.ErrTransient, err)
	}

	s.audit.LogCodeEvent(ctx, models.AuditEventTypeCodeRevoked, userIDFromSubject(subjectKey), code.ID, code.Purpose, true, "")
	return nil
}

func (s *SecretCodeService) persist(ctx context.Context, code *models.SecretCode) {
	if err := s.repo.Update(ctx, code); err != nil {
		s.logger.WarnContext(ctx, "failed to persist code state",
			slog.String("code_id", code.ID),
			slog.Any("error", err))
	}
}

func (s *SecretCodeService) recordOutcome(ctx context.Context, code *models.SecretCode, outcome string) {
	s.metrics.CodeValidation(string(code.Purpose), outcome)

	if outcome == "success" {
		s.audit.LogCodeEvent(ctx, models.AuditEventTypeCodeValidated, userIDFromSubject(code.SubjectKey), code.ID, code.Purpose, true, "")
		return
	}

	s.logger.WarnContext(ctx, "secret code rejected",
		slog.String("purpose", string(code.Purpose)),
		slog.String("code_id", code.ID),
		slog.String("outcome", outcome),
		slog.Int("remaining_attempts", code.RemainingAttempts),
	)
	if outcome == "exhausted" {
		s.audit.LogCodeEvent(ctx, models.AuditEventTypeCodeValidated, userIDFromSubject(code.SubjectKey), code.ID, code.Purpose, false, outcome)
	}
}

func notificationFor(purpose models.CodePurpose) NotificationType {
	switch purpose {
	case models.PurposePasswordRecovery:
		return NotifyTemporaryPassword
	case models.PurposeAccountUnlock:
		return NotifyUnlockCode
	default:
		return NotifyVerificationCode
	}
}

// userIDFromSubject extracts the id from "user:<id>:<purpose>"
func userIDFromSubject(subjectKey string) string {
	const prefix = "user:"
	if len(subjectKey) <= len(prefix) || subjectKey[:len(prefix)] != prefix {
		return ""
	}
	rest := subjectKey[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return rest
}
