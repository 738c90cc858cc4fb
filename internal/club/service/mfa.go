package service

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount = 10                   // Number of backup codes to generate
	backupCodeBytes = cryptox.TokenSize128 // 128-bit entropy for backup codes
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// MFAEnrollment is shown once while the member sets up their authenticator.
type MFAEnrollment struct {
	Secret string
	URL    string // otpauth:// URL for QR rendering
}

type MFAService struct {
	Store    store.Store
	Issuer   string // Issuer name shown in authenticator apps
	Activity *ActivityService
	Secrets  *cryptox.SecretBox // optional; seals TOTP secrets at rest
	Now      func() time.Time
}

func (s *MFAService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Enroll generates a TOTP secret for the user. MFA is not enabled until
// Confirm succeeds with a code from the new secret; enrolling again replaces
// an unconfirmed secret.
func (s *MFAService) Enroll(ctx context.Context, userID string) (MFAEnrollment, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return MFAEnrollment{}, fmt.Errorf("load user: %w", err)
	}
	if u.MFAEnabled() {
		return MFAEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := s.key(u.Email, nil)
	if err != nil {
		return MFAEnrollment{}, err
	}

	stored, err := s.seal(key.Secret())
	if err != nil {
		return MFAEnrollment{}, err
	}
	if err := s.Store.Users().UpdateMFASecret(ctx, userID, stored, s.now()); err != nil {
		return MFAEnrollment{}, fmt.Errorf("store mfa secret: %w", err)
	}

	return MFAEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Pending rebuilds the enrolment shown to a member who started setup but has
// not confirmed a code yet. It returns nil when there is nothing pending.
func (s *MFAService) Pending(u domain.User) (*MFAEnrollment, error) {
	if u.MFAEnabled() || u.MFASecret == nil || *u.MFASecret == "" {
		return nil, nil
	}
	secret, err := s.secret(u)
	if err != nil {
		return nil, err
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode mfa secret: %w", err)
	}
	key, err := s.key(u.Email, raw)
	if err != nil {
		return nil, err
	}
	return &MFAEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// key builds the TOTP key for account. A nil secret generates a new one.
func (s *MFAService) key(account string, secret []byte) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: account,
		Period:      totpOpts.Period,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
		Secret:      secret,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}
	return key, nil
}

// Confirm checks a code against the enrolled secret, enables MFA and returns
// freshly generated backup codes. Only their fingerprints are stored.
func (s *MFAService) Confirm(ctx context.Context, userID, code string, meta RequestMeta) ([]string, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.MFAEnabled() {
		return nil, ErrMFAAlreadyEnabled
	}
	secret, err := s.secret(u)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !s.validTOTP(code, secret, now) {
		return nil, ErrInvalidMFACode
	}

	backupCodes := make([]string, backupCodeCount)
	for i := range backupCodeCount {
		c, err := cryptox.GenerateToken(backupCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		backupCodes[i] = c
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to clear backup codes: %w", err)
		}
		for _, c := range backupCodes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, cryptox.FingerprintToken(c)); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		if err := tx.Users().EnableMFA(ctx, userID, now); err != nil {
			return fmt.Errorf("failed to enable MFA: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Activity.Record(ctx, meta, userID, domain.ActionMFAEnabled, nil)
	return backupCodes, nil
}

// Disable removes the second factor after checking a current TOTP or backup code.
func (s *MFAService) Disable(ctx context.Context, userID, code string, meta RequestMeta) error {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !u.MFAEnabled() {
		return ErrMFANotEnabled
	}

	ok, err := s.VerifyCode(ctx, u, code)
	if err != nil {
		return err
	}
	if !ok {
		s.Activity.Record(ctx, meta, userID, domain.ActionMFAChallengeFailed, map[string]any{"during": "disable"})
		return ErrInvalidMFACode
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		if err := tx.Users().DisableMFA(ctx, userID, s.now()); err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Activity.Record(ctx, meta, userID, domain.ActionMFADisabled, nil)
	return nil
}

// VerifyCode accepts a current TOTP code or consumes one backup code.
func (s *MFAService) VerifyCode(ctx context.Context, u domain.User, code string) (bool, error) {
	if !u.MFAEnabled() {
		return false, ErrMFANotEnabled
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	secret, err := s.secret(u)
	if err != nil {
		return false, err
	}
	if s.validTOTP(code, secret, s.now()) {
		return true, nil
	}

	ok, err := s.Store.BackupCodes().ConsumeBackupCode(ctx, u.ID, cryptox.FingerprintToken(code))
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return ok, nil
}

// RemainingBackupCodes is shown on the account page.
func (s *MFAService) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	return s.Store.BackupCodes().CountBackupCodes(ctx, userID)
}

func (s *MFAService) seal(secret string) (string, error) {
	if s.Secrets == nil {
		return secret, nil
	}
	sealed, err := s.Secrets.Seal(secret)
	if err != nil {
		return "", fmt.Errorf("seal mfa secret: %w", err)
	}
	return sealed, nil
}

// secret returns the user's TOTP secret in plain base32.
func (s *MFAService) secret(u domain.User) (string, error) {
	if u.MFASecret == nil || *u.MFASecret == "" {
		return "", ErrMFANotEnrolled
	}
	if s.Secrets == nil {
		return *u.MFASecret, nil
	}
	secret, err := s.Secrets.Open(*u.MFASecret)
	if err != nil {
		return "", fmt.Errorf("open mfa secret: %w", err)
	}
	return secret, nil
}

func (s *MFAService) validTOTP(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(strings.ReplaceAll(code, " ", ""), secret, at, totpOpts)
	return err == nil && ok
}
