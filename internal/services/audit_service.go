package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/loanguard/internal/models"
)

// AuditLogRepository persists audit entries
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByTargetID(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error)
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo   AuditLogRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// LogCodeEvent records issuance, validation and revocation of secret codes.
// Code values never reach the audit trail.
func (s *AuditService) LogCodeEvent(ctx context.Context, eventType string, userID string, codeID string, purpose models.CodePurpose, success bool, failureReason string) {
	if s == nil {
		return
	}

	resourceType := models.AuditResourceTypeSecretCode
	entry := &models.AuditLog{
		EventType:    eventType,
		TargetID:     optionalString(userID),
		ResourceType: &resourceType,
		ResourceID:   optionalString(codeID),
		Action:       string(purpose),
		Success:      success,
		Metadata:     models.AuditMetadata{"purpose": string(purpose)},
	}
	if !success {
		entry.FailureReason = optionalString(failureReason)
	}

	s.write(ctx, entry)
}

// LogLockEvent records lock creation and every kind of unlock.
// actorID is empty for system-initiated transitions.
func (s *AuditService) LogLockEvent(ctx context.Context, eventType string, actorID string, lock *models.AccountLockRecord, metadata models.AuditMetadata) {
	if s == nil || lock == nil {
		return
	}

	if metadata == nil {
		metadata = models.AuditMetadata{}
	}
	metadata["reason"] = string(lock.Reason)
	metadata["expires_at"] = lock.ExpiresAt

	resourceType := models.AuditResourceTypeAccountLock
	s.write(ctx, &models.AuditLog{
		EventType:    eventType,
		ActorID:      optionalString(actorID),
		TargetID:     &lock.UserID,
		ResourceType: &resourceType,
		ResourceID:   optionalString(lock.ID),
		Action:       eventType,
		Success:      true,
		Metadata:     metadata,
	})
}

// LogRiskAlert records a HIGH or CRITICAL login assessment
func (s *AuditService) LogRiskAlert(ctx context.Context, userID string, ipAddress string, assessment models.RiskAssessment) {
	if s == nil {
		return
	}

	s.write(ctx, &models.AuditLog{
		EventType: models.AuditEventTypeRiskAlert,
		TargetID:  &userID,
		Action:    string(assessment.Level),
		Success:   true,
		IPAddress: optionalString(ipAddress),
		Metadata: models.AuditMetadata{
			"risk_score": assessment.Score,
			"factors":    assessment.Factors,
		},
	})
}

// write does the dual write. Persistence failures are logged and swallowed.
func (s *AuditService) write(ctx context.Context, entry *models.AuditLog) {
	attrs := []any{
		slog.String("event_type", entry.EventType),
		slog.String("action", entry.Action),
		slog.Any("actor_id", entry.ActorID),
		slog.Any("target_id", entry.TargetID),
		slog.Any("metadata", entry.Metadata),
	}

	if entry.Success {
		s.logger.InfoContext(ctx, "audit event", attrs...)
	} else {
		attrs = append(attrs, slog.Any("failure_reason", entry.FailureReason))
		s.logger.WarnContext(ctx, "audit event failed", attrs...)
	}

	if s.repo == nil {
		return
	}
	if _, err := s.repo.Create(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_type", entry.EventType),
			slog.Any("error", err),
		)
	}
}

// GetUserAuditTrail retrieves audit entries targeting a user, newest first
func (s *AuditService) GetUserAuditTrail(ctx context.Context, userID string, limit int, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.GetByTargetID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user audit trail: %w", err)
	}

	return logs, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
