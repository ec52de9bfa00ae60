package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for audit logging
const (
	AuditEventTypeCodeIssued    = "code_issued"
	AuditEventTypeCodeValidated = "code_validated"
	AuditEventTypeCodeRevoked   = "code_revoked"
	AuditEventTypeAccountLock   = "account_lock"
	AuditEventTypeAccountUnlock = "account_unlock"
	AuditEventTypeForceUnlock   = "force_unlock"
	AuditEventTypeRiskAlert     = "risk_alert"
)

// Resource types
const (
	AuditResourceTypeSecretCode  = "secret_code"
	AuditResourceTypeAccountLock = "account_lock"
)

type AuditLog struct {
	ID            string        `json:"id" db:"id"`
	EventType     string        `json:"event_type" db:"event_type"`
	ActorID       *string       `json:"actor_id,omitempty" db:"actor_id"`
	TargetID      *string       `json:"target_id,omitempty" db:"target_id"`
	ResourceType  *string       `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID    *string       `json:"resource_id,omitempty" db:"resource_id"`
	Action        string        `json:"action" db:"action"`
	Success       bool          `json:"success" db:"success"`
	FailureReason *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	IPAddress     *string       `json:"ip_address,omitempty" db:"ip_address"`
	Metadata      AuditMetadata `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}
