package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Code and lock lifecycle errors
	ErrExpired           = errors.New("code has expired")
	ErrCooldownActive    = errors.New("cooldown is active")
	ErrAttemptsExhausted = errors.New("validation attempts exhausted")
	ErrInvalidCode       = errors.New("invalid code")
	ErrNoActiveLock      = errors.New("no active account lock")

	// Request errors
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInvalidInput = errors.New("invalid input")

	// Collaborator errors
	ErrTransient    = errors.New("transient failure")
	ErrLookupFailed = errors.New("geolocation lookup failed")
)

// RetryAfterError carries how long the caller has to wait before retrying.
// It wraps ErrCooldownActive or ErrRateLimited.
type RetryAfterError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s: retry after %s", e.Err.Error(), e.RetryAfter.Round(time.Second))
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// NewCooldownError builds a cooldown error with the remaining wait
func NewCooldownError(retryAfter time.Duration) error {
	return &RetryAfterError{Err: ErrCooldownActive, RetryAfter: retryAfter}
}

// NewRateLimitedError builds a rate limit error with the remaining wait
func NewRateLimitedError(retryAfter time.Duration) error {
	return &RetryAfterError{Err: ErrRateLimited, RetryAfter: retryAfter}
}

// RetryAfter extracts the retry-after duration from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rae *RetryAfterError
	if errors.As(err, &rae) {
		return rae.RetryAfter, true
	}
	return 0, false
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
