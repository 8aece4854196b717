package verification

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for verification operations.
var (
	ErrCodeNotFound      = errors.New("no verification code for this email")
	ErrCodeExpired       = errors.New("verification code has expired")
	ErrTooManyAttempts   = errors.New("too many attempts, request a new code")
	ErrCodeMismatch      = errors.New("invalid verification code")
	ErrRateLimited       = errors.New("verification code requested too recently")
	ErrSendFailed        = errors.New("failed to send verification email")
	ErrNotifierNotReady  = errors.New("notifier not connected")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrUnsupportedReason = errors.New("unsupported verification purpose")
)

// RateLimitError is returned by SendCode when the previous code is too recent.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry in %ds", ErrRateLimited, int(e.RetryAfter.Seconds()))
}

// Unwrap lets callers test for ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
