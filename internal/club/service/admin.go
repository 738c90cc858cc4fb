package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
)

const AdminPageSize = 50

type AdminService struct {
	Store    store.Store
	Activity *ActivityService
	Now      func() time.Time
}

// UserPage is one page of the member list.
type UserPage struct {
	Users []domain.User
	Total int
	Page  int
}

func (p UserPage) HasNext() bool { return p.Page*AdminPageSize < p.Total }

// ListUsers returns page (1-based) of users, newest first.
func (s *AdminService) ListUsers(ctx context.Context, page int) (UserPage, error) {
	if page < 1 {
		page = 1
	}
	users, err := s.Store.Users().ListUsers(ctx, AdminPageSize, (page-1)*AdminPageSize)
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}
	total, err := s.Store.Users().CountUsers(ctx)
	if err != nil {
		return UserPage{}, fmt.Errorf("count users: %w", err)
	}
	return UserPage{Users: users, Total: total, Page: page}, nil
}

// SetStatus activates or deactivates a member. Admins cannot change their
// own status, which keeps at least the acting admin able to sign in.
func (s *AdminService) SetStatus(ctx context.Context, actorID, userID string, in StatusInput, meta RequestMeta) error {
	if err := validateInput(in).orNil(); err != nil {
		return err
	}
	status := domain.Status(in.Status)
	if status != domain.StatusActive && status != domain.StatusInactive {
		return ErrInvalidStatus
	}
	if actorID == userID {
		return ErrSelfStatusChange
	}

	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	// Only verification moves an account out of pending.
	if u.Status == domain.StatusPending {
		return ErrStatusPending
	}
	if u.Status == status {
		return nil
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	if err := s.Store.Users().UpdateStatus(ctx, userID, status, now); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.Activity.Record(ctx, meta, actorID, domain.ActionStatusChanged, map[string]any{
		"target_user_id": userID,
		"from":           string(u.Status),
		"to":             string(status),
	})
	return nil
}

func (s *AdminService) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	return s.Store.Activity().ListRecent(ctx, limit)
}
