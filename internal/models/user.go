package models

import (
	"time"
)

// User is the slice of the user row this subsystem needs.
// Lock and verification flags live on AccountSecurityState.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      string // e.g., "user", "admin"
	CreatedAt time.Time
	UpdatedAt time.Time
}
