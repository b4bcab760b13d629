package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrValidation         = errors.New("validation failed")
	ErrQuota              = errors.New("quota exceeded")
	ErrDuplicate          = errors.New("already registered")
	ErrTransientProvider  = errors.New("identity provider unavailable")
	ErrVerificationFailed = errors.New("verification failed")
	ErrExpired            = errors.New("verification window expired")
	ErrCleanupFailure     = errors.New("identity cleanup failed")
	ErrTokenInvalid       = errors.New("verification token invalid")
	ErrTokenExpired       = errors.New("verification token expired")
	ErrTooSoon            = errors.New("requested too soon")
)

// QuotaError is returned when a tenant's tier forbids an operation.
// It matches ErrQuota under errors.Is.
type QuotaError struct {
	Tier     Tier
	Limit    int
	Reason   string
	Guidance string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s (tier %s): %s", e.Reason, e.Tier, e.Guidance)
}

func (e *QuotaError) Unwrap() error { return ErrQuota }
