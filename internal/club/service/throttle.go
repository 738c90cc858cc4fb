package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockout          = 15 * time.Minute
)

// Decision is the outcome of a throttle check.
type Decision struct {
	Allowed    bool
	Failures   int
	RetryAfter time.Duration // zero when Allowed
}

// LoginThrottle is a fixed-window failure counter per normalised email. A
// window opens at the first failure and expires Lockout later; an expired
// window counts as empty.
type LoginThrottle struct {
	Store       store.Store
	MaxAttempts int
	Lockout     time.Duration
	Now         func() time.Time
}

func (t *LoginThrottle) maxAttempts() int {
	if t.MaxAttempts <= 0 {
		return DefaultMaxLoginAttempts
	}
	return t.MaxAttempts
}

func (t *LoginThrottle) lockout() time.Duration {
	if t.Lockout <= 0 {
		return DefaultLockout
	}
	return t.Lockout
}

func (t *LoginThrottle) now() time.Time {
	if t.Now == nil {
		return time.Now().UTC()
	}
	return t.Now().UTC()
}

// Check reports whether a login attempt for email may proceed.
func (t *LoginThrottle) Check(ctx context.Context, email string) (Decision, error) {
	a, err := t.Store.LoginAttempts().Get(ctx, normaliseEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load login attempts: %w", err)
	}

	now := t.now()
	expires := a.WindowStart.Add(t.lockout())
	if !now.Before(expires) {
		return Decision{Allowed: true}, nil
	}
	if a.Failures >= t.maxAttempts() {
		return Decision{Allowed: false, Failures: a.Failures, RetryAfter: expires.Sub(now)}, nil
	}
	return Decision{Allowed: true, Failures: a.Failures}, nil
}

// RecordFailure counts one failed attempt in a single statement.
func (t *LoginThrottle) RecordFailure(ctx context.Context, email string) (domain.LoginAttempts, error) {
	now := t.now()
	a, err := t.Store.LoginAttempts().RecordFailure(ctx, normaliseEmail(email), now, now.Add(-t.lockout()))
	if err != nil {
		return domain.LoginAttempts{}, fmt.Errorf("record login failure: %w", err)
	}
	return a, nil
}

// Reset clears the counter. Called on every successful login.
func (t *LoginThrottle) Reset(ctx context.Context, email string) error {
	if err := t.Store.LoginAttempts().Reset(ctx, normaliseEmail(email)); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}
