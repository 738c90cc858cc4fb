package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
	"github.com/aussiebroadwan/clubhouse/internal/club/upload"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/aussiebroadwan/clubhouse/pkg/idx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

// Avatar is an uploaded profile picture as received from the form.
type Avatar struct {
	Filename string
	Body     io.Reader
}

type ProfileService struct {
	Store    store.Store
	Hasher   *cryptox.Hasher
	Policy   PasswordPolicy
	Uploads  *upload.Validator
	Storage  upload.Storage
	Activity *ActivityService
	Now      func() time.Time
}

func (s *ProfileService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *ProfileService) Get(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// Update saves profile fields and, when avatar is non-nil, replaces the
// profile picture. The previous picture is removed after the row is updated.
func (s *ProfileService) Update(ctx context.Context, userID string, in ProfileInput, avatar *Avatar, meta RequestMeta) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Bio = strings.TrimSpace(in.Bio)

	verr := validateInput(in)

	var file upload.File
	if avatar != nil {
		f, err := s.Uploads.Check(avatar.Filename, avatar.Body)
		switch {
		case err == nil:
			file = f
		case errors.Is(err, upload.ErrEmpty):
		case errors.Is(err, upload.ErrTooLarge):
			verr.Add("avatar", fmt.Sprintf("Pictures must be at most %d KB.", s.Uploads.MaxBytes/1024))
		case errors.Is(err, upload.ErrUnsupportedType), errors.Is(err, upload.ErrExtension):
			verr.Add("avatar", "Upload a JPEG, PNG, GIF or WebP image.")
		default:
			return domain.User{}, err
		}
	}
	if err := verr.orNil(); err != nil {
		return domain.User{}, err
	}

	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}

	profile := domain.Profile{Name: in.Name, Phone: in.Phone, Bio: in.Bio, AvatarKey: u.Profile.AvatarKey}

	if file.Size() > 0 {
		key := fmt.Sprintf("avatars/%s/%s%s", userID, strings.ToLower(idx.New().String()), file.Ext)
		if err := s.Storage.Put(ctx, key, bytes.NewReader(file.Data), file.Size(), file.ContentType); err != nil {
			return domain.User{}, fmt.Errorf("store avatar: %w", err)
		}
		profile.AvatarKey = key
	}

	if err := s.Store.Users().UpdateProfile(ctx, userID, profile, s.now()); err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}

	if old := u.Profile.AvatarKey; old != "" && old != profile.AvatarKey {
		if err := s.Storage.Delete(ctx, old); err != nil {
			slogx.FromContext(ctx).Warn("failed to delete old avatar", slog.String("key", old), slog.Any("error", err))
		}
	}

	u.Profile = profile
	s.Activity.Record(ctx, meta, userID, domain.ActionProfileUpdated, map[string]any{"avatar": file.Size() > 0})
	return u, nil
}

// ChangePassword requires the current password and applies the policy to
// the new one.
func (s *ProfileService) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput, meta RequestMeta) error {
	verr := validateInput(in)
	s.Policy.check(verr, "new_password", in.NewPassword)
	if err := verr.orNil(); err != nil {
		return err
	}

	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	if err := s.Hasher.Verify(in.CurrentPassword, u.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			verr.Add("current_password", "Current password is incorrect.")
			return verr
		}
		return fmt.Errorf("verify password: %w", err)
	}

	hash, err := s.Hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.Activity.Record(ctx, meta, userID, domain.ActionPasswordChanged, nil)
	return nil
}
