package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/metrics"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
)

// Sweeper is implemented by session stores that need explicit expiry.
type Sweeper interface {
	Sweep() int
}

// HousekeepingService periodically removes expired login counters, stale
// reset tokens and, for the in-memory store, expired sessions.
type HousekeepingService struct {
	Store    store.Store
	Sessions Sweeper // optional
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Interval time.Duration
	Lockout  time.Duration
	Now      func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 10 minutes.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval, lockout time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		Lockout:  lockout,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs one pass. Each step is independent; a failure in one
// does not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := s.Now().UTC()

	if n, err := s.Store.LoginAttempts().DeleteExpired(ctx, now.Add(-s.Lockout)); err != nil {
		s.Logger.Error("failed to delete expired login attempts", "error", err)
	} else {
		s.Metrics.HousekeepingRemoved("login_attempts", n)
		s.Logger.Debug("deleted expired login attempts", "count", n)
	}

	if n, err := s.Store.Users().ClearExpiredResetTokens(ctx, now); err != nil {
		s.Logger.Error("failed to clear expired reset tokens", "error", err)
	} else {
		s.Metrics.HousekeepingRemoved("reset_tokens", n)
		s.Logger.Debug("cleared expired reset tokens", "count", n)
	}

	if s.Sessions != nil {
		n := s.Sessions.Sweep()
		s.Metrics.HousekeepingRemoved("sessions", int64(n))
		s.Logger.Debug("swept expired sessions", "count", n)
	}
}
