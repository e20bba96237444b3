package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike,
	// so responses cannot be used to probe which addresses exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrResetTokenExpired and ErrResetTokenInvalid distinguish an expired
	// reset link (request a new one) from a forged or already-used one.
	ErrResetTokenExpired = errors.New("reset token expired")
	ErrResetTokenInvalid = errors.New("reset token invalid")

	// ErrGoogleTokenInvalid is returned when the Google ID token fails
	// verification.
	ErrGoogleTokenInvalid = errors.New("google token invalid")

	// ErrAdminProtected is returned when a delete targets an admin account.
	ErrAdminProtected = errors.New("admin accounts cannot be deleted")

	// ErrInvalidRole is returned for role values other than student/admin.
	ErrInvalidRole = errors.New("invalid role")
)

// RateLimitedError is returned when an email has exhausted its login
// attempts. RetryAfter feeds the Retry-After response header.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many failed login attempts, retry in %s", e.RetryAfter)
}
