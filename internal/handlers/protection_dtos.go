package handlers

import (
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
)

// Code DTOs

// RequestCodeRequest asks for a fresh code to be sent to the user's email
type RequestCodeRequest struct {
	UserID  string `json:"user_id" validate:"required,max=64"`
	Purpose string `json:"purpose" validate:"required,oneof=email_verification password_recovery account_unlock"`
}

// ValidateCodeRequest submits a code for checking
type ValidateCodeRequest struct {
	UserID  string `json:"user_id" validate:"required,max=64"`
	Purpose string `json:"purpose" validate:"required,oneof=email_verification password_recovery account_unlock"`
	Code    string `json:"code" validate:"required,alphanum,max=32"`
}

// ValidateCodeResponse confirms a successful validation
type ValidateCodeResponse struct {
	Valid   bool   `json:"valid"`
	Purpose string `json:"purpose"`
}

// UnlockRequest is the self-service unlock keyed by email
type UnlockRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Code  string `json:"code" validate:"required,alphanum,max=32"`
}

// UnlockResponse reports a closed lock
type UnlockResponse struct {
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// Login outcome DTOs

// LoginOutcomeRequest reports one login attempt. IP and user agent default
// to the calling request when omitted.
type LoginOutcomeRequest struct {
	UserID    string `json:"user_id" validate:"required,max=64"`
	Success   *bool  `json:"success" validate:"required"`
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
}

// Rate limit DTOs

// RateLimitCheckRequest consumes a point for identity under action.
// Identity defaults to the client IP.
type RateLimitCheckRequest struct {
	Action   string `json:"action" validate:"required,oneof=login recovery unlock verification"`
	Identity string `json:"identity" validate:"max=255"`
}

// RateLimitCheckResponse mirrors the decision
type RateLimitCheckResponse struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// LockStatusResponse adds the seconds until an active lock expires
type LockStatusResponse struct {
	*models.LockStatus
	RetryAfter int `json:"retry_after,omitempty"`
}

// Admin DTOs

// AdminLockRequest locks an account for a fixed duration
type AdminLockRequest struct {
	Reason          string `json:"reason" validate:"omitempty,oneof=administrative suspicious_activity user_requested"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gte=1,lte=43200"`
}

// AuditTrailResponse is one page of audit entries
type AuditTrailResponse struct {
	Entries []*models.AuditLog `json:"entries"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}
