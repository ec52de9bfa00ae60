package models

import "time"

// RateLimitRule configures one action's fixed window
type RateLimitRule struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// RateLimitBucket is the per-key counter state. Process lifetime only for the memory store.
type RateLimitBucket struct {
	Points       int        `json:"points"`
	WindowStart  time.Time  `json:"window_start"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// RateLimitDecision is the result of a single check, with header metadata
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the retry-after value surfaced to clients
func (d *RateLimitDecision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	return RetryAfterSeconds(d.RetryAfter)
}
