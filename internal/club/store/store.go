package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Sub-repositories are exposed as
// methods so a Tx can hand out the same repos bound to the transaction, and
// nobody can accidentally start a transaction inside a transaction.
type Store interface {
	Users() Users
	LoginAttempts() LoginAttempts
	Activity() Activity
	BackupCodes() BackupCodes

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. It commits when fn returns nil
	// and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail matches case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user. Returns ErrAlreadyExists when the email
	// is taken in any letter case.
	CreateUser(ctx context.Context, u domain.User) error

	// ListUsers returns users newest first.
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error)

	CountUsers(ctx context.Context) (int, error)

	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	UpdateProfile(ctx context.Context, userID string, p domain.Profile, now time.Time) error
	UpdateStatus(ctx context.Context, userID string, status domain.Status, now time.Time) error
	UpdateRole(ctx context.Context, userID string, role domain.Role, now time.Time) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// MarkEmailVerified activates a pending user without a token, clearing
	// any outstanding one. Used when an operator vouches for the address.
	MarkEmailVerified(ctx context.Context, userID string, now time.Time) error

	// SetVerificationToken replaces any outstanding verification token of a
	// pending user.
	SetVerificationToken(ctx context.Context, userID, tokenHash string, now time.Time) error

	// VerifyEmail activates the pending user holding tokenHash and clears the
	// token in one conditional update. Returns ErrNotFound when no pending
	// user holds the token.
	VerifyEmail(ctx context.Context, tokenHash string, now time.Time) (domain.User, error)

	// SetResetToken replaces any outstanding reset token.
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt, now time.Time) error

	// ConsumeResetToken sets the new password hash and clears the token in one
	// conditional update keyed on the token being present and unexpired.
	// Returns ErrNotFound when the token is unknown, used, or expired.
	ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (domain.User, error)

	// ClearExpiredResetTokens is housekeeping.
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)

	UpdateMFASecret(ctx context.Context, userID string, secret string, now time.Time) error
	EnableMFA(ctx context.Context, userID string, at time.Time) error
	DisableMFA(ctx context.Context, userID string, now time.Time) error
}

type LoginAttempts interface {
	Get(ctx context.Context, email string) (domain.LoginAttempts, error)

	// RecordFailure increments the counter for email in a single statement.
	// A window that started at or before windowCutoff is restarted at now.
	RecordFailure(ctx context.Context, email string, now, windowCutoff time.Time) (domain.LoginAttempts, error)

	Reset(ctx context.Context, email string) error

	// DeleteExpired removes counters whose window started at or before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type Activity interface {
	Append(ctx context.Context, e domain.ActivityEntry) error

	// ListRecent returns the newest entries first.
	ListRecent(ctx context.Context, limit int) ([]domain.ActivityEntry, error)

	ListByUser(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error)
}

type BackupCodes interface {
	CreateBackupCode(ctx context.Context, userID, codeHash string) error

	// ConsumeBackupCode deletes the code and reports whether it existed.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)

	DeleteAllBackupCodes(ctx context.Context, userID string) error
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}
