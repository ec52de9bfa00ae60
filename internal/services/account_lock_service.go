package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/loanguard/internal/keylock"
	"github.com/BradenHooton/loanguard/internal/metrics"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/google/uuid"
)

// AccountLockRepository persists lock records. At most one active record per user.
type AccountLockRepository interface {
	// GetActive returns the open lock for userID, expired or not. ErrNotFound when none.
	GetActive(ctx context.Context, userID string) (*models.AccountLockRecord, error)
	// Create fails with ErrConflict when an active lock already exists
	Create(ctx context.Context, lock *models.AccountLockRecord) error
	Update(ctx context.Context, lock *models.AccountLockRecord) error
}

// SecurityStateRepository persists the per-user protection aggregate
type SecurityStateRepository interface {
	Get(ctx context.Context, userID string) (*models.AccountSecurityState, error)
	Save(ctx context.Context, state *models.AccountSecurityState) error
}

// SecurityEventRepository is an append-only event log
type SecurityEventRepository interface {
	Append(ctx context.Context, event *models.SecurityEvent) error
	// Recent returns up to limit events for userID, newest first,
	// restricted to types when any are given
	Recent(ctx context.Context, userID string, limit int, types ...models.SecurityEventType) ([]*models.SecurityEvent, error)
}

// AccountLockConfig holds configuration for the lock state machine
type AccountLockConfig struct {
	MaxFailedLogins         int
	FailedLoginLockDuration time.Duration
	SuspiciousLockDuration  time.Duration
	UnlockMaxAttempts       int
	NotifyTimeout           time.Duration
	Clock                   func() time.Time
}

// DefaultAccountLockConfig returns production defaults
func DefaultAccountLockConfig() AccountLockConfig {
	return AccountLockConfig{
		MaxFailedLogins:         5,
		FailedLoginLockDuration: 30 * time.Minute,
		SuspiciousLockDuration:  24 * time.Hour,
		UnlockMaxAttempts:       3,
		NotifyTimeout:           5 * time.Second,
	}
}

// LockRequest describes an explicit lock
type LockRequest struct {
	Reason   models.LockReason
	Duration time.Duration
	LockedBy string
}

// AccountLockService is the ACTIVE/LOCKED state machine. Expired locks are
// closed lazily whenever a user's lock is inspected.
type AccountLockService struct {
	locks    AccountLockRepository
	states   SecurityStateRepository
	events   SecurityEventRepository
	codes    *SecretCodeService
	notifier Notifier
	audit    *AuditService
	metrics  *metrics.Metrics
	logger   *slog.Logger
	users    *keylock.KeyLock
	config   AccountLockConfig
}

// NewAccountLockService creates a new AccountLockService
func NewAccountLockService(
	locks AccountLockRepository,
	states SecurityStateRepository,
	events SecurityEventRepository,
	codes *SecretCodeService,
	notifier Notifier,
	audit *AuditService,
	m *metrics.Metrics,
	logger *slog.Logger,
	config AccountLockConfig,
) *AccountLockService {
	defaults := DefaultAccountLockConfig()
	if config.MaxFailedLogins <= 0 {
		config.MaxFailedLogins = defaults.MaxFailedLogins
	}
	if config.FailedLoginLockDuration <= 0 {
		config.FailedLoginLockDuration = defaults.FailedLoginLockDuration
	}
	if config.SuspiciousLockDuration <= 0 {
		config.SuspiciousLockDuration = defaults.SuspiciousLockDuration
	}
	if config.UnlockMaxAttempts <= 0 {
		config.UnlockMaxAttempts = defaults.UnlockMaxAttempts
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaults.NotifyTimeout
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &AccountLockService{
		locks:    locks,
		states:   states,
		events:   events,
		codes:    codes,
		notifier: notifier,
		audit:    audit,
		metrics:  m,
		logger:   logger,
		users:    keylock.New(),
		config:   config,
	}
}

// Status reports whether userID is locked, closing an expired lock on the way
func (s *AccountLockService) Status(ctx context.Context, userID string) (*models.LockStatus, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", models.ErrInvalidInput)
	}

	unlock := s.users.Lock(userID)
	defer unlock()

	lock, err := s.activeLock(ctx, userID)
	if err != nil {
		return nil, err
	}

	if lock == nil {
		return &models.LockStatus{UserID: userID, State: models.StateActive}, nil
	}
	return &models.LockStatus{UserID: userID, State: models.StateLocked, Lock: lock}, nil
}

// Lock places an explicit lock on user. An existing active lock wins and is returned.
func (s *AccountLockService) Lock(ctx context.Context, user *models.User, req LockRequest) (*models.AccountLockRecord, error) {
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: unknown lock reason %q", models.ErrInvalidInput, req.Reason)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: lock duration must be positive", models.ErrInvalidInput)
	}

	unlock := s.users.Lock(user.ID)
	defer unlock()

	lock, created, err := s.openLock(ctx, user.ID, req)
	if err != nil {
		return nil, err
	}
	if created {
		s.notifyLocked(user, lock)
	}
	return lock, nil
}

// RecordFailedLogin bumps the failed-login counter and locks the account
// once it reaches the configured maximum. Returns the lock when one was opened.
func (s *AccountLockService) RecordFailedLogin(ctx context.Context, user *models.User) (*models.AccountLockRecord, error) {
	unlock := s.users.Lock(user.ID)
	defer unlock()

	// an expired lock is closed first so the counter starts from zero
	if _, err := s.activeLock(ctx, user.ID); err != nil {
		return nil, err
	}

	state, err := s.loadState(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	now := s.config.Clock()
	state.FailedLoginCount++
	state.LastFailedLoginAt = &now
	if err := s.saveState(ctx, state); err != nil {
		return nil, err
	}

	if state.FailedLoginCount < s.config.MaxFailedLogins {
		return nil, nil
	}

	lock, created, err := s.openLock(ctx, user.ID, LockRequest{
		Reason:   models.LockReasonTooManyLoginAttempts,
		Duration: s.config.FailedLoginLockDuration,
		LockedBy: models.UnlockedBySystem,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	s.logger.WarnContext(ctx, "account locked after failed logins",
		slog.String("user_id", user.ID),
		slog.Int("failed_login_count", state.FailedLoginCount),
		slog.Time("expires_at", lock.ExpiresAt),
	)
	s.notifyLocked(user, lock)
	return lock, nil
}

// RecordSuccessfulLogin clears the failed-login counter and trusts the device class
func (s *AccountLockService) RecordSuccessfulLogin(ctx context.Context, userID string, device models.DeviceClass) error {
	unlock := s.users.Lock(userID)
	defer unlock()

	state, err := s.loadState(ctx, userID)
	if err != nil {
		return err
	}

	state.FailedLoginCount = 0
	state.LastFailedLoginAt = nil
	state.TrustDevice(device)
	return s.saveState(ctx, state)
}

// UpdateState applies fn to the user's security state under the user lock
func (s *AccountLockService) UpdateState(ctx context.Context, userID string, fn func(state *models.AccountSecurityState)) error {
	unlock := s.users.Lock(userID)
	defer unlock()

	state, err := s.loadState(ctx, userID)
	if err != nil {
		return err
	}

	fn(state)
	return s.saveState(ctx, state)
}

// ApplyRisk acts on a login assessment. HIGH only alerts the user.
// CRITICAL locks the account for suspicious activity and issues an unlock code.
func (s *AccountLockService) ApplyRisk(ctx context.Context, user *models.User, ipAddress string, assessment models.RiskAssessment) (*models.AccountLockRecord, error) {
	switch assessment.Level {
	case models.RiskHigh:
		s.audit.LogRiskAlert(ctx, user.ID, ipAddress, assessment)
		notifyAsync(s.notifier, s.logger, s.config.NotifyTimeout, NotifySuspiciousLogin, user.Email, NotificationPayload{
			"risk_score": strconv.Itoa(assessment.Score),
			"ip_address": ipAddress,
		})
		return nil, nil
	case models.RiskCritical:
	default:
		return nil, nil
	}

	unlock := s.users.Lock(user.ID)
	defer unlock()

	s.audit.LogRiskAlert(ctx, user.ID, ipAddress, assessment)

	lock, created, err := s.openLock(ctx, user.ID, LockRequest{
		Reason:   models.LockReasonSuspiciousActivity,
		Duration: s.config.SuspiciousLockDuration,
		LockedBy: models.UnlockedBySystem,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return lock, nil
	}

	s.logger.WarnContext(ctx, "account locked for suspicious activity",
		slog.String("user_id", user.ID),
		slog.Int("risk_score", assessment.Score),
		slog.Any("factors", assessment.Factors),
	)

	if _, err := s.attachUnlockCode(ctx, user, lock); err != nil {
		// the lock stands; the user can request another code
		s.logger.WarnContext(ctx, "failed to issue unlock code",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	s.notifyLocked(user, lock)

	return lock, nil
}

// IssueUnlockCode sends a fresh unlock code for the user's active lock
func (s *AccountLockService) IssueUnlockCode(ctx context.Context, user *models.User) (*models.IssuedCode, error) {
	unlock := s.users.Lock(user.ID)
	defer unlock()

	lock, err := s.activeLock(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, models.ErrNoActiveLock
	}

	return s.attachUnlockCode(ctx, user, lock)
}

// Unlock closes the user's lock when code validates. Each submission counts
// against the lock's attempt counter. The lock expiry is never extended.
func (s *AccountLockService) Unlock(ctx context.Context, user *models.User, code string) (*models.AccountLockRecord, error) {
	unlock := s.users.Lock(user.ID)
	defer unlock()

	lock, err := s.activeLock(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, models.ErrNoActiveLock
	}

	lock.Attempts++
	if err := s.locks.Update(ctx, lock); err != nil {
		return nil, fmt.Errorf("%w: failed to record unlock attempt: %v", models.ErrTransient, err)
	}

	if _, err := s.codes.Validate(ctx, models.SubjectKey(user.ID, models.PurposeAccountUnlock), code); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCode
		}
		return nil, err
	}

	if err := s.closeLock(ctx, lock, models.UnlockedByUser, user.ID); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account unlocked with code", slog.String("user_id", user.ID))
	s.notifyUnlocked(user, lock)
	return lock, nil
}

// ForceUnlock closes the user's lock without a code
func (s *AccountLockService) ForceUnlock(ctx context.Context, user *models.User, adminID string) (*models.AccountLockRecord, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin identity required", models.ErrInvalidInput)
	}

	unlock := s.users.Lock(user.ID)
	defer unlock()

	lock, err := s.activeLock(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, models.ErrNoActiveLock
	}

	if err := s.closeLock(ctx, lock, models.UnlockedByAdmin, adminID); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account force unlocked",
		slog.String("user_id", user.ID),
		slog.String("admin_id", adminID),
		slog.String("reason", string(lock.Reason)),
	)
	s.notifyUnlocked(user, lock)
	return lock, nil
}

// activeLock returns the open, unexpired lock or nil. Callers hold the user lock.
func (s *AccountLockService) activeLock(ctx context.Context, userID string) (*models.AccountLockRecord, error) {
	lock, err := s.locks.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to load lock: %v", models.ErrTransient, err)
	}

	if lock.IsExpired(s.config.Clock()) {
		if err := s.closeLock(ctx, lock, models.UnlockedBySystem, ""); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return lock, nil
}

// openLock creates a lock unless one is already active. Callers hold the user lock.
func (s *AccountLockService) openLock(ctx context.Context, userID string, req LockRequest) (*models.AccountLockRecord, bool, error) {
	existing, err := s.activeLock(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := s.config.Clock()
	lock := &models.AccountLockRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Reason:    req.Reason,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(req.Duration),
		LockedBy:  req.LockedBy,
	}

	if err := s.locks.Create(ctx, lock); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// another instance got there first
			existing, err := s.locks.GetActive(ctx, userID)
			if err != nil {
				return nil, false, fmt.Errorf("%w: failed to load lock: %v", models.ErrTransient, err)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("%w: failed to create lock: %v", models.ErrTransient, err)
	}

	state, err := s.loadState(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	state.ActiveLockID = &lock.ID
	if err := s.saveState(ctx, state); err != nil {
		return nil, false, err
	}

	s.appendEvent(ctx, userID, models.EventAccountLocked)
	s.metrics.LockTransition(metrics.TransitionLocked, string(lock.Reason))
	s.audit.LogLockEvent(ctx, models.AuditEventTypeAccountLock, actorFor(req.LockedBy), lock, nil)

	return lock, true, nil
}

// closeLock transitions lock back to ACTIVE and resets the failed-login counter.
// Any outstanding unlock code is revoked.
func (s *AccountLockService) closeLock(ctx context.Context, lock *models.AccountLockRecord, by, actorID string) error {
	lock.Close(by, s.config.Clock())
	if err := s.locks.Update(ctx, lock); err != nil {
		return fmt.Errorf("%w: failed to close lock: %v", models.ErrTransient, err)
	}

	state, err := s.loadState(ctx, lock.UserID)
	if err != nil {
		return err
	}
	state.ActiveLockID = nil
	state.FailedLoginCount = 0
	state.LastFailedLoginAt = nil
	if err := s.saveState(ctx, state); err != nil {
		return err
	}

	if s.codes != nil && lock.UnlockCodeID != nil {
		if err := s.codes.Revoke(ctx, models.SubjectKey(lock.UserID, models.PurposeAccountUnlock)); err != nil {
			s.logger.WarnContext(ctx, "failed to revoke unlock code",
				slog.String("user_id", lock.UserID),
				slog.Any("error", err))
		}
	}

	transition, eventType := metrics.TransitionUnlocked, models.AuditEventTypeAccountUnlock
	switch by {
	case models.UnlockedBySystem:
		transition = metrics.TransitionExpired
	case models.UnlockedByAdmin:
		eventType = models.AuditEventTypeForceUnlock
	}

	s.appendEvent(ctx, lock.UserID, models.EventAccountUnlocked)
	s.metrics.LockTransition(transition, string(lock.Reason))
	s.audit.LogLockEvent(ctx, eventType, actorID, lock, models.AuditMetadata{
		"unlocked_by": by,
		"attempts":    lock.Attempts,
	})

	return nil
}

// attachUnlockCode issues an unlock code and links it to lock. Callers hold the user lock.
func (s *AccountLockService) attachUnlockCode(ctx context.Context, user *models.User, lock *models.AccountLockRecord) (*models.IssuedCode, error) {
	issued, err := s.codes.Issue(ctx, models.SubjectKey(user.ID, models.PurposeAccountUnlock), user.Email,
		models.UnlockPolicy(s.config.UnlockMaxAttempts))
	if err != nil {
		return nil, err
	}

	lock.UnlockCodeID = &issued.Record.ID
	if err := s.locks.Update(ctx, lock); err != nil {
		return nil, fmt.Errorf("%w: failed to link unlock code: %v", models.ErrTransient, err)
	}

	return issued, nil
}

func (s *AccountLockService) loadState(ctx context.Context, userID string) (*models.AccountSecurityState, error) {
	state, err := s.states.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.AccountSecurityState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("%w: failed to load security state: %v", models.ErrTransient, err)
	}
	return state, nil
}

func (s *AccountLockService) saveState(ctx context.Context, state *models.AccountSecurityState) error {
	state.UpdatedAt = s.config.Clock()
	if err := s.states.Save(ctx, state); err != nil {
		return fmt.Errorf("%w: failed to save security state: %v", models.ErrTransient, err)
	}
	return nil
}

// appendEvent records a lock transition. The event log is informational here.
func (s *AccountLockService) appendEvent(ctx context.Context, userID string, eventType models.SecurityEventType) {
	event := &models.SecurityEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventType: eventType,
		Timestamp: s.config.Clock(),
		RiskLevel: models.RiskLow,
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to append security event",
			slog.String("user_id", userID),
			slog.String("event_type", string(eventType)),
			slog.Any("error", err))
	}
}

func (s *AccountLockService) notifyLocked(user *models.User, lock *models.AccountLockRecord) {
	notifyAsync(s.notifier, s.logger, s.config.NotifyTimeout, NotifyAccountLocked, user.Email, NotificationPayload{
		"reason":     string(lock.Reason),
		"expires_at": lock.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *AccountLockService) notifyUnlocked(user *models.User, lock *models.AccountLockRecord) {
	unlockedAt := s.config.Clock()
	if lock.UnlockedAt != nil {
		unlockedAt = *lock.UnlockedAt
	}
	notifyAsync(s.notifier, s.logger, s.config.NotifyTimeout, NotifyAccountUnlocked, user.Email, NotificationPayload{
		"unlocked_at": unlockedAt.UTC().Format(time.RFC3339),
	})
}

// actorFor maps LockedBy to an audit actor id; system locks have none
func actorFor(lockedBy string) string {
	if lockedBy == models.UnlockedBySystem {
		return ""
	}
	return lockedBy
}
