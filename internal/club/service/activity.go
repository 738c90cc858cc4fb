package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/metrics"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
	"github.com/aussiebroadwan/clubhouse/pkg/idx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

// RequestMeta identifies the client behind an operation for the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
}

const maxUserAgentLen = 512

// ActivityService appends audit records. Write failures are logged and
// swallowed; they never fail the operation being audited.
type ActivityService struct {
	Store   store.Store
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Record appends one entry. userID may be empty for anonymous actors.
func (s *ActivityService) Record(ctx context.Context, meta RequestMeta, userID, action string, details map[string]any) {
	if s == nil {
		return
	}
	s.Metrics.SecurityEvent(action)

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	ua := meta.UserAgent
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}

	entry := domain.ActivityEntry{
		ID:        idx.NewAt(now).String(),
		Action:    action,
		Details:   details,
		IPAddress: meta.IP,
		UserAgent: ua,
		CreatedAt: now,
	}
	if userID != "" {
		entry.UserID = &userID
		entry.EntityType = domain.EntityUser
		entry.EntityID = userID
	}

	if err := s.Store.Activity().Append(ctx, entry); err != nil {
		slogx.FromContext(ctx).Warn("failed to write activity log",
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}

// ForUser returns the newest entries for one user.
func (s *ActivityService) ForUser(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	return s.Store.Activity().ListByUser(ctx, userID, limit)
}
