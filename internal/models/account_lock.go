package models

import "time"

// LockReason explains why an account was locked
type LockReason string

const (
	LockReasonTooManyLoginAttempts LockReason = "too_many_login_attempts"
	LockReasonTooManyResetAttempts LockReason = "too_many_reset_attempts"
	LockReasonSuspiciousActivity   LockReason = "suspicious_activity"
	LockReasonAdministrative       LockReason = "administrative"
	LockReasonUserRequested        LockReason = "user_requested"
)

// Valid reports whether r is a known reason
func (r LockReason) Valid() bool {
	switch r {
	case LockReasonTooManyLoginAttempts, LockReasonTooManyResetAttempts,
		LockReasonSuspiciousActivity, LockReasonAdministrative, LockReasonUserRequested:
		return true
	}
	return false
}

// Who closed a lock
const (
	UnlockedByUser   = "user"
	UnlockedByAdmin  = "admin"
	UnlockedBySystem = "system"
)

// AccountState is the externally visible lock state
type AccountState string

const (
	StateActive AccountState = "ACTIVE"
	StateLocked AccountState = "LOCKED"
)

// AccountLockRecord tracks a single lock from creation to closure
type AccountLockRecord struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Reason       LockReason `json:"reason"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LockedBy     string     `json:"locked_by,omitempty"`
	UnlockCodeID *string    `json:"-"`
	Attempts     int        `json:"attempts"`
	UnlockedAt   *time.Time `json:"unlocked_at,omitempty"`
	UnlockedBy   *string    `json:"unlocked_by,omitempty"`
}

// IsExpired reports whether the lock has run out at now
func (l *AccountLockRecord) IsExpired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// Close marks the lock inactive
func (l *AccountLockRecord) Close(by string, at time.Time) {
	l.IsActive = false
	l.UnlockedAt = &at
	l.UnlockedBy = &by
}

// AccountSecurityState is the single aggregate owned by the lock state machine.
// The user record only references it by user id.
type AccountSecurityState struct {
	UserID                 string
	FailedLoginCount       int
	LastFailedLoginAt      *time.Time
	RequiresPasswordChange bool
	EmailVerified          bool
	TrustedDeviceClasses   []DeviceClass
	ActiveLockID           *string
	UpdatedAt              time.Time
}

// TrustsDevice reports whether class was seen on a previous successful login
func (s *AccountSecurityState) TrustsDevice(class DeviceClass) bool {
	for _, trusted := range s.TrustedDeviceClasses {
		if trusted == class {
			return true
		}
	}
	return false
}

// TrustDevice adds class to the trusted set
func (s *AccountSecurityState) TrustDevice(class DeviceClass) {
	if class == "" || s.TrustsDevice(class) {
		return
	}
	s.TrustedDeviceClasses = append(s.TrustedDeviceClasses, class)
}

// LockStatus is the read model returned by status queries
type LockStatus struct {
	UserID string             `json:"user_id"`
	State  AccountState       `json:"state"`
	Lock   *AccountLockRecord `json:"lock,omitempty"`
}
