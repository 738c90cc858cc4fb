package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/mailer"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/aussiebroadwan/clubhouse/pkg/idx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

const DefaultResetTokenTTL = time.Hour

// AuthService implements registration, email verification, login, logout
// and password reset.
type AuthService struct {
	Store    store.Store
	Hasher   *cryptox.Hasher
	Policy   PasswordPolicy
	Throttle *LoginThrottle
	MFA      *MFAService
	Activity *ActivityService
	Mailer   mailer.Mailer
	SiteName string
	BaseURL  string // absolute site URL used in emailed links
	ResetTTL time.Duration
	Now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func (s *AuthService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *AuthService) resetTTL() time.Duration {
	if s.ResetTTL <= 0 {
		return DefaultResetTokenTTL
	}
	return s.ResetTTL
}

func (s *AuthService) link(path, token string) string {
	return strings.TrimRight(s.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// Register creates a pending account and mails a verification link. A taken
// email is reported as ErrEmailTaken.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (domain.User, error) {
	in.Email = normaliseEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	verr := validateInput(in)
	s.Policy.check(verr, "password", in.Password)
	if err := verr.orNil(); err != nil {
		return domain.User{}, err
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.User{}, err
	}
	tokenHash := cryptox.FingerprintToken(token)

	now := s.now()
	u := domain.User{
		ID:                    idx.NewAt(now).String(),
		Email:                 in.Email,
		PasswordHash:          hash,
		Role:                  domain.RoleMember,
		Status:                domain.StatusPending,
		VerificationTokenHash: &tokenHash,
		Profile:               domain.Profile{Name: in.Name},
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	s.Activity.Record(ctx, meta, u.ID, domain.ActionRegister, nil)
	s.send(ctx, mailer.Message{
		To:      u.Email,
		Subject: "Confirm your email address",
		Body: fmt.Sprintf("Welcome to %s!\n\nConfirm your email address to activate your account:\n%s\n",
			s.SiteName, s.link("/auth/verify-email", token)),
	})

	return u, nil
}

// VerifyEmail activates the pending account holding token. The token is
// cleared in the same statement so it works exactly once.
func (s *AuthService) VerifyEmail(ctx context.Context, token string, meta RequestMeta) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, ErrInvalidToken
	}

	u, err := s.Store.Users().VerifyEmail(ctx, cryptox.FingerprintToken(token), s.now())
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrInvalidToken
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("verify email: %w", err)
	}

	s.Activity.Record(ctx, meta, u.ID, domain.ActionVerifyEmail, nil)
	return u, nil
}

// ResendVerification mails a fresh verification link to a pending account,
// invalidating the previous one. Like a reset request it reports nothing
// about whether the account exists.
func (s *AuthService) ResendVerification(ctx context.Context, in ResendVerificationInput, meta RequestMeta) error {
	in.Email = normaliseEmail(in.Email)
	if err := validateInput(in).orNil(); err != nil {
		return err
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.Status != domain.StatusPending {
		return nil
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return err
	}
	err = s.Store.Users().SetVerificationToken(ctx, u.ID, cryptox.FingerprintToken(token), s.now())
	if errors.Is(err, store.ErrNotFound) {
		// Verified in the meantime.
		return nil
	}
	if err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	s.Activity.Record(ctx, meta, u.ID, domain.ActionVerificationResent, nil)
	s.send(ctx, mailer.Message{
		To:      u.Email,
		Subject: "Confirm your email address",
		Body: fmt.Sprintf("Here is a new link to confirm your email address for %s:\n%s\n\nEarlier links no longer work.\n",
			s.SiteName, s.link("/auth/verify-email", token)),
	})
	return nil
}

// Login authenticates in and binds sess to the user.
//
// Order matters: the throttle is consulted before any credential check so a
// locked email stays locked even with the right password, and pending
// accounts are only told to verify after the password matched.
func (s *AuthService) Login(ctx context.Context, sess *session.Session, in LoginInput, meta RequestMeta) (domain.User, error) {
	in.Email = normaliseEmail(in.Email)
	in.Code = strings.TrimSpace(in.Code)
	if err := validateInput(in).orNil(); err != nil {
		return domain.User{}, err
	}

	log := slogx.FromContext(ctx)

	decision, err := s.Throttle.Check(ctx, in.Email)
	if err != nil {
		return domain.User{}, err
	}
	if !decision.Allowed {
		s.Activity.Record(ctx, meta, "", domain.ActionLoginLocked, map[string]any{"email": in.Email})
		return domain.User{}, &LockedError{RetryAfter: decision.RetryAfter}
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		// Spend the same hashing work as a real account.
		_ = s.Hasher.Verify(in.Password, s.dummy())
		return domain.User{}, s.fail(ctx, meta, "", in.Email, "unknown_email")
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}

	verifyErr := s.Hasher.Verify(in.Password, u.PasswordHash)

	if u.Status == domain.StatusInactive {
		return domain.User{}, s.fail(ctx, meta, u.ID, in.Email, "inactive")
	}

	switch {
	case verifyErr == nil:
	case errors.Is(verifyErr, cryptox.ErrPasswordMismatch):
		return domain.User{}, s.fail(ctx, meta, u.ID, in.Email, "bad_password")
	default:
		log.Error("stored password hash unusable", slog.String("user_id", u.ID), slog.Any("error", verifyErr))
		return domain.User{}, s.fail(ctx, meta, u.ID, in.Email, "bad_hash")
	}

	if u.Status == domain.StatusPending {
		s.Activity.Record(ctx, meta, u.ID, domain.ActionLoginPending, nil)
		return domain.User{}, ErrPendingVerification
	}

	if u.MFAEnabled() {
		if in.Code == "" {
			return domain.User{}, ErrMFARequired
		}
		ok, err := s.MFA.VerifyCode(ctx, u, in.Code)
		if err != nil {
			return domain.User{}, err
		}
		if !ok {
			if _, err := s.Throttle.RecordFailure(ctx, in.Email); err != nil {
				log.Error("failed to record login failure", slog.Any("error", err))
			}
			s.Activity.Record(ctx, meta, u.ID, domain.ActionMFAChallengeFailed, nil)
			return domain.User{}, ErrInvalidMFACode
		}
	}

	now := s.now()

	if s.Hasher.NeedsRehash(u.PasswordHash) {
		if hash, err := s.Hasher.Hash(in.Password); err != nil {
			log.Error("failed to rehash password", slog.Any("error", err))
		} else if err := s.Store.Users().UpdatePasswordHash(ctx, u.ID, hash, now); err != nil {
			log.Error("failed to store rehashed password", slog.Any("error", err))
		} else {
			u.PasswordHash = hash
			s.Activity.Record(ctx, meta, u.ID, domain.ActionPasswordRehash, nil)
		}
	}

	if err := sess.Login(ctx, u); err != nil {
		return domain.User{}, err
	}

	if err := s.Store.Users().UpdateLastLogin(ctx, u.ID, now); err != nil {
		log.Error("failed to update last login", slog.Any("error", err))
	} else {
		u.LastLoginAt = &now
	}
	if err := s.Throttle.Reset(ctx, in.Email); err != nil {
		log.Error("failed to reset login throttle", slog.Any("error", err))
	}

	s.Activity.Record(ctx, meta, u.ID, domain.ActionLoginSuccess, nil)
	return u, nil
}

// fail counts a failed attempt, audits it and returns the generic error.
func (s *AuthService) fail(ctx context.Context, meta RequestMeta, userID, email, reason string) error {
	a, err := s.Throttle.RecordFailure(ctx, email)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to record login failure", slog.Any("error", err))
	}
	s.Activity.Record(ctx, meta, userID, domain.ActionLoginFailed, map[string]any{
		"email":    email,
		"reason":   reason,
		"failures": a.Failures,
	})
	return ErrInvalidCredentials
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.Hasher.Hash("not-a-real-password")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// Logout destroys the session.
func (s *AuthService) Logout(ctx context.Context, sess *session.Session, meta RequestMeta) error {
	userID := sess.UserID()
	if err := sess.Logout(ctx); err != nil {
		return err
	}
	if userID != "" {
		s.Activity.Record(ctx, meta, userID, domain.ActionLogout, nil)
	}
	return nil
}

// RequestPasswordReset mails a reset link when the account exists and is not
// inactive. The caller always shows the same response either way.
func (s *AuthService) RequestPasswordReset(ctx context.Context, in ForgotPasswordInput, meta RequestMeta) error {
	in.Email = normaliseEmail(in.Email)
	if err := validateInput(in).orNil(); err != nil {
		return err
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		s.Activity.Record(ctx, meta, "", domain.ActionResetRequested, map[string]any{"email": in.Email, "known": false})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.Status == domain.StatusInactive {
		s.Activity.Record(ctx, meta, u.ID, domain.ActionResetRequested, map[string]any{"known": true, "inactive": true})
		return nil
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return err
	}

	now := s.now()
	ttl := s.resetTTL()
	if err := s.Store.Users().SetResetToken(ctx, u.ID, cryptox.FingerprintToken(token), now.Add(ttl), now); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.Activity.Record(ctx, meta, u.ID, domain.ActionResetRequested, map[string]any{"known": true})
	s.send(ctx, mailer.Message{
		To:      u.Email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Someone asked to reset the password for your %s account.\n\n"+
			"Choose a new password within %d minutes:\n%s\n\nIf this was not you, ignore this email.\n",
			s.SiteName, int(ttl/time.Minute), s.link("/auth/reset-password", token)),
	})
	return nil
}

// ResetPassword consumes token and sets the new password in one conditional
// update, so a token can be used once and never after it expires.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput, meta RequestMeta) error {
	in.Token = strings.TrimSpace(in.Token)

	verr := validateInput(in)
	s.Policy.check(verr, "password", in.Password)
	if err := verr.orNil(); err != nil {
		return err
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u, err := s.Store.Users().ConsumeResetToken(ctx, cryptox.FingerprintToken(in.Token), hash, s.now())
	if errors.Is(err, store.ErrNotFound) {
		s.Activity.Record(ctx, meta, "", domain.ActionResetFailed, nil)
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	if err := s.Throttle.Reset(ctx, u.Email); err != nil {
		slogx.FromContext(ctx).Error("failed to reset login throttle", slog.Any("error", err))
	}
	s.Activity.Record(ctx, meta, u.ID, domain.ActionResetCompleted, nil)
	return nil
}

// send delivers msg, logging failures. Callers never surface mail errors
// because that would reveal whether an account exists.
func (s *AuthService) send(ctx context.Context, msg mailer.Message) {
	if s.Mailer == nil {
		return
	}
	if err := s.Mailer.Send(ctx, msg); err != nil {
		slogx.FromContext(ctx).Error("failed to send mail",
			slog.String("subject", msg.Subject),
			slog.Any("error", err),
		)
	}
}
