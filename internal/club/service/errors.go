package service

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and inactive
	// accounts alike.
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrPendingVerification = errors.New("please verify your email address before signing in")
	ErrMFARequired         = errors.New("a second factor code is required")
	ErrInvalidMFACode      = errors.New("invalid authentication code")
	ErrEmailTaken          = errors.New("an account with this email already exists")
	ErrInvalidToken        = errors.New("this link is invalid or has expired")
	ErrMFAAlreadyEnabled   = errors.New("two-factor authentication is already enabled")
	ErrMFANotEnabled       = errors.New("two-factor authentication is not enabled")
	ErrMFANotEnrolled      = errors.New("start two-factor enrolment first")
	ErrSelfStatusChange    = errors.New("admins cannot change their own status")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrStatusPending       = errors.New("unverified members cannot be activated or deactivated")
)

// ValidationError carries one message per offending form field.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has a message.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

// orNil returns e as an error only when it holds at least one field.
func (e *ValidationError) orNil() error {
	if e.empty() {
		return nil
	}
	return e
}

// LockedError is returned while an email is locked out by the login throttle.
type LockedError struct {
	RetryAfter time.Duration
}

// Minutes rounds RetryAfter up to whole minutes, never below one.
func (e *LockedError) Minutes() int {
	m := int((e.RetryAfter + time.Minute - 1) / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

func (e *LockedError) Error() string {
	unit := "minutes"
	if e.Minutes() == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Too many failed attempts. Please try again in %d %s.", e.Minutes(), unit)
}
