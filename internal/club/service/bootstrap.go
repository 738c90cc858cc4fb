package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/aussiebroadwan/clubhouse/pkg/idx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

// BootstrapService creates administrator accounts out of band, so a fresh
// install has someone who can reach the admin dashboard.
type BootstrapService struct {
	Store    store.Store
	Hasher   *cryptox.Hasher
	Policy   PasswordPolicy
	Activity *ActivityService
	Now      func() time.Time
}

// CreateAdmin creates an active, verified admin. When the email already
// belongs to an account, that account is promoted and reactivated and its
// password replaced instead. created reports which of the two happened.
func (s *BootstrapService) CreateAdmin(ctx context.Context, in CreateAdminInput) (u domain.User, created bool, err error) {
	l := slogx.FromContext(ctx)

	in.Email = normaliseEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	verr := validateInput(in)
	s.Policy.check(verr, "password", in.Password)
	if err := verr.orNil(); err != nil {
		return domain.User{}, false, err
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	var before domain.User
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.Users().GetUserByEmail(ctx, in.Email)
		switch {
		case errors.Is(err, store.ErrNotFound):
			u = domain.User{
				ID:              idx.NewAt(now).String(),
				Email:           in.Email,
				PasswordHash:    hash,
				Role:            domain.RoleAdmin,
				Status:          domain.StatusActive,
				Profile:         domain.Profile{Name: in.Name},
				EmailVerifiedAt: &now,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			created = true
			return tx.Users().CreateUser(ctx, u)
		case err != nil:
			return err
		}

		before = existing
		if err := tx.Users().UpdateRole(ctx, existing.ID, domain.RoleAdmin, now); err != nil {
			return err
		}
		switch existing.Status {
		case domain.StatusPending:
			err = tx.Users().MarkEmailVerified(ctx, existing.ID, now)
		case domain.StatusInactive:
			err = tx.Users().UpdateStatus(ctx, existing.ID, domain.StatusActive, now)
		}
		if err != nil {
			return err
		}
		if err := tx.Users().UpdatePasswordHash(ctx, existing.ID, hash, now); err != nil {
			return err
		}
		u, err = tx.Users().GetUserByID(ctx, existing.ID)
		return err
	})
	if err != nil {
		l.Error("failed to create admin", slog.Any("error", err))
		return domain.User{}, false, fmt.Errorf("create admin: %w", err)
	}

	meta := RequestMeta{UserAgent: "clubctl"}
	s.Activity.Record(ctx, meta, u.ID, domain.ActionAdminBootstrapped, map[string]any{
		"created": created,
	})
	if !created && before.Role != u.Role {
		s.Activity.Record(ctx, meta, u.ID, domain.ActionRoleChanged, map[string]any{
			"target_user_id": u.ID,
			"from":           string(before.Role),
			"to":             string(u.Role),
		})
	}
	if !created && before.Status != u.Status {
		s.Activity.Record(ctx, meta, u.ID, domain.ActionStatusChanged, map[string]any{
			"target_user_id": u.ID,
			"from":           string(before.Status),
			"to":             string(u.Status),
		})
	}
	return u, created, nil
}
