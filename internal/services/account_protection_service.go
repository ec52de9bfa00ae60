package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loanguard/internal/metrics"
	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/google/uuid"
)

// UserRepository is the read side of the user store this subsystem needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// ProtectionConfig holds configuration for the facade
type ProtectionConfig struct {
	VerificationPolicy      models.CodePolicy
	TemporaryPasswordPolicy models.CodePolicy
	HistoryLimit            int
	Clock                   func() time.Time
}

// DefaultProtectionConfig returns the default code policies
func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		VerificationPolicy:      models.VerificationPolicy(),
		TemporaryPasswordPolicy: models.TemporaryPasswordPolicy(),
		HistoryLimit:            RiskHistoryLimit,
	}
}

// LoginOutcome is one observed login attempt
type LoginOutcome struct {
	UserID    string
	Success   bool
	IPAddress string
	UserAgent string
}

// LoginOutcomeResult reports what the subsystem decided about a login
type LoginOutcomeResult struct {
	Assessment models.RiskAssessment `json:"assessment"`
	Status     *models.LockStatus    `json:"status"`
}

// CodeRequestResult describes an issued code without revealing it
type CodeRequestResult struct {
	Purpose   models.CodePurpose `json:"purpose"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// AccountProtectionService is the inbound surface of the subsystem.
// It composes codes, risk scoring, rate limiting and the lock state machine.
type AccountProtectionService struct {
	users   UserRepository
	states  SecurityStateRepository
	events  SecurityEventRepository
	codes   *SecretCodeService
	scorer  *RiskScorer
	limiter *RateLimitService
	lockSM  *AccountLockService
	audit   *AuditService
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  ProtectionConfig
}

// NewAccountProtectionService creates a new AccountProtectionService
func NewAccountProtectionService(
	users UserRepository,
	states SecurityStateRepository,
	events SecurityEventRepository,
	codes *SecretCodeService,
	scorer *RiskScorer,
	limiter *RateLimitService,
	lockSM *AccountLockService,
	audit *AuditService,
	m *metrics.Metrics,
	logger *slog.Logger,
	config ProtectionConfig,
) *AccountProtectionService {
	defaults := DefaultProtectionConfig()
	if config.VerificationPolicy.Purpose == "" {
		config.VerificationPolicy = defaults.VerificationPolicy
	}
	if config.TemporaryPasswordPolicy.Purpose == "" {
		config.TemporaryPasswordPolicy = defaults.TemporaryPasswordPolicy
	}
	if config.HistoryLimit <= 0 || config.HistoryLimit > RiskHistoryLimit {
		config.HistoryLimit = defaults.HistoryLimit
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &AccountProtectionService{
		users:   users,
		states:  states,
		events:  events,
		codes:   codes,
		scorer:  scorer,
		limiter: limiter,
		lockSM:  lockSM,
		audit:   audit,
		metrics: m,
		logger:  logger,
		config:  config,
	}
}

// RequestCode issues a code for purpose and sends it to the user's email.
// Recovery codes also flag the account for a password change.
func (s *AccountProtectionService) RequestCode(ctx context.Context, userID string, purpose models.CodePurpose) (*CodeRequestResult, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: unknown purpose %q", models.ErrInvalidInput, purpose)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var issued *models.IssuedCode
	switch purpose {
	case models.PurposeAccountUnlock:
		issued, err = s.lockSM.IssueUnlockCode(ctx, user)
	case models.PurposePasswordRecovery:
		issued, err = s.codes.Issue(ctx, models.SubjectKey(user.ID, purpose), user.Email, s.config.TemporaryPasswordPolicy)
		if err == nil {
			err = s.lockSM.UpdateState(ctx, user.ID, func(state *models.AccountSecurityState) {
				state.RequiresPasswordChange = true
			})
		}
	default:
		issued, err = s.codes.Issue(ctx, models.SubjectKey(user.ID, purpose), user.Email, s.config.VerificationPolicy)
	}
	if err != nil {
		return nil, err
	}

	return &CodeRequestResult{Purpose: purpose, ExpiresAt: issued.Record.ExpiresAt}, nil
}

// ValidateCode checks code for userID and applies the purpose's side effect
func (s *AccountProtectionService) ValidateCode(ctx context.Context, userID string, purpose models.CodePurpose, code string) error {
	if !purpose.Valid() {
		return fmt.Errorf("%w: unknown purpose %q", models.ErrInvalidInput, purpose)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	if purpose == models.PurposeAccountUnlock {
		_, err := s.lockSM.Unlock(ctx, user, code)
		return err
	}

	if _, err := s.codes.Validate(ctx, models.SubjectKey(user.ID, purpose), code); err != nil {
		return err
	}

	if purpose == models.PurposeEmailVerification {
		return s.lockSM.UpdateState(ctx, user.ID, func(state *models.AccountSecurityState) {
			state.EmailVerified = true
		})
	}
	return nil
}

// UnlockWithCode is the self-service unlock keyed by email.
// Unknown emails fail exactly like a wrong code.
func (s *AccountProtectionService) UnlockWithCode(ctx context.Context, email, code string) (*models.AccountLockRecord, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCode
		}
		return nil, fmt.Errorf("%w: failed to load user: %v", models.ErrTransient, err)
	}

	return s.lockSM.Unlock(ctx, user, code)
}

// CompletePasswordChange revokes any temporary password and clears the change flag
func (s *AccountProtectionService) CompletePasswordChange(ctx context.Context, userID string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.codes.Revoke(ctx, models.SubjectKey(user.ID, models.PurposePasswordRecovery)); err != nil {
		return err
	}

	if err := s.lockSM.UpdateState(ctx, user.ID, func(state *models.AccountSecurityState) {
		state.RequiresPasswordChange = false
	}); err != nil {
		return err
	}

	s.appendEvent(ctx, &models.SecurityEvent{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		EventType: models.EventPasswordChange,
		Timestamp: s.config.Clock(),
		RiskLevel: models.RiskLow,
	})
	return nil
}

// RecordLoginOutcome scores the login, appends it to the event log and feeds
// failures into the lock state machine
func (s *AccountProtectionService) RecordLoginOutcome(ctx context.Context, outcome LoginOutcome) (*LoginOutcomeResult, error) {
	user, err := s.loadUser(ctx, outcome.UserID)
	if err != nil {
		return nil, err
	}

	state, err := s.loadState(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	history, err := s.events.Recent(ctx, user.ID, s.config.HistoryLimit, models.EventLoginSuccess, models.EventLoginFailed)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load security events: %v", models.ErrTransient, err)
	}

	eventType := models.EventLoginFailed
	if outcome.Success {
		eventType = models.EventLoginSuccess
	}

	event := &models.SecurityEvent{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		EventType:   eventType,
		Timestamp:   s.config.Clock(),
		IPAddress:   outcome.IPAddress,
		UserAgent:   outcome.UserAgent,
		DeviceClass: models.ClassifyDevice(outcome.UserAgent),
		GeoLocation: s.scorer.Locate(ctx, outcome.IPAddress),
	}

	assessment := s.scorer.Score(event, history, state.TrustedDeviceClasses)
	event.RiskScore = assessment.Score
	event.RiskLevel = assessment.Level
	s.metrics.RiskLevel(string(assessment.Level))

	if err := s.events.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: failed to append security event: %v", models.ErrTransient, err)
	}

	s.logger.InfoContext(ctx, "login outcome recorded",
		slog.String("user_id", user.ID),
		slog.Bool("success", outcome.Success),
		slog.Int("risk_score", assessment.Score),
		slog.String("risk_level", string(assessment.Level)),
	)

	if outcome.Success {
		if err := s.lockSM.RecordSuccessfulLogin(ctx, user.ID, event.DeviceClass); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.lockSM.RecordFailedLogin(ctx, user); err != nil {
			return nil, err
		}
		if _, err := s.lockSM.ApplyRisk(ctx, user, outcome.IPAddress, assessment); err != nil {
			return nil, err
		}
	}

	status, err := s.lockSM.Status(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &LoginOutcomeResult{Assessment: assessment, Status: status}, nil
}

// CheckRateLimit consumes a point for identity under action. A denial is
// returned alongside a RateLimited error carrying the retry-after.
func (s *AccountProtectionService) CheckRateLimit(ctx context.Context, identity, action string) (*models.RateLimitDecision, error) {
	decision, err := s.limiter.Check(ctx, identity, action)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return decision, models.NewRateLimitedError(decision.RetryAfter)
	}
	return decision, nil
}

// GetLockStatus reports the user's lock state
func (s *AccountProtectionService) GetLockStatus(ctx context.Context, userID string) (*models.LockStatus, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.lockSM.Status(ctx, userID)
}

// ForceUnlock is the administrative unlock
func (s *AccountProtectionService) ForceUnlock(ctx context.Context, userID, adminID string) (*models.AccountLockRecord, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.lockSM.ForceUnlock(ctx, user, adminID)
}

// LockAccount is the administrative lock
func (s *AccountProtectionService) LockAccount(ctx context.Context, userID, adminID string, reason models.LockReason, duration time.Duration) (*models.AccountLockRecord, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin identity required", models.ErrInvalidInput)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.lockSM.Lock(ctx, user, LockRequest{Reason: reason, Duration: duration, LockedBy: adminID})
}

// GetAuditTrail lists audit entries targeting userID
func (s *AccountProtectionService) GetAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.audit.GetUserAuditTrail(ctx, userID, limit, offset)
}

func (s *AccountProtectionService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", models.ErrInvalidInput)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to load user: %v", models.ErrTransient, err)
	}
	return user, nil
}

func (s *AccountProtectionService) loadState(ctx context.Context, userID string) (*models.AccountSecurityState, error) {
	state, err := s.states.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.AccountSecurityState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("%w: failed to load security state: %v", models.ErrTransient, err)
	}
	return state, nil
}

func (s *AccountProtectionService) appendEvent(ctx context.Context, event *models.SecurityEvent) {
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to append security event",
			slog.String("user_id", event.UserID),
			slog.String("event_type", string(event.EventType)),
			slog.Any("error", err))
	}
}
