package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
)

const userColumns = `id, email, password_hash, role, status,
	verification_token_hash, reset_token_hash, reset_token_expires_at,
	name, phone, bio, avatar_key,
	mfa_secret, mfa_enabled_at,
	email_verified_at, last_login_at, created_at, updated_at`

type usersRepo struct {
	db DBTX
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u                                domain.User
		role, status                     string
		verifyHash, resetHash, mfaSecret sql.NullString
		resetExpires, mfaEnabled         sql.NullInt64
		verifiedAt, lastLogin            sql.NullInt64
		createdAt, updatedAt             int64
	)

	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &role, &status,
		&verifyHash, &resetHash, &resetExpires,
		&u.Profile.Name, &u.Profile.Phone, &u.Profile.Bio, &u.Profile.AvatarKey,
		&mfaSecret, &mfaEnabled,
		&verifiedAt, &lastLogin, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}

	u.Role = domain.Role(role)
	u.Status = domain.Status(status)
	u.VerificationTokenHash = mapNullStringPtr(verifyHash)
	u.ResetTokenHash = mapNullStringPtr(resetHash)
	u.ResetTokenExpiresAt = mapNullTimePtr(resetExpires)
	u.MFASecret = mapNullStringPtr(mfaSecret)
	u.MFAEnabledAt = mapNullTimePtr(mfaEnabled)
	u.EmailVerifiedAt = mapNullTimePtr(verifiedAt)
	u.LastLoginAt = mapNullTimePtr(lastLogin)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)

	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`,
		strings.TrimSpace(email),
	)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, password_hash, role, status,
			verification_token_hash, name, phone, bio, avatar_key,
			email_verified_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		strings.ToLower(strings.TrimSpace(u.Email)),
		u.PasswordHash,
		string(u.Role),
		string(u.Status),
		mapOptionalString(u.VerificationTokenHash),
		u.Profile.Name,
		u.Profile.Phone,
		u.Profile.Bio,
		u.Profile.AvatarKey,
		mapOptionalTime(u.EmailVerifiedAt),
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *usersRepo) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *usersRepo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(now), userID,
	))
}

func (r *usersRepo) UpdateProfile(ctx context.Context, userID string, p domain.Profile, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET name = ?, phone = ?, bio = ?, avatar_key = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Phone, p.Bio, p.AvatarKey, toMillis(now), userID,
	))
}

func (r *usersRepo) UpdateStatus(ctx context.Context, userID string, status domain.Status, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(now), userID,
	))
}

func (r *usersRepo) UpdateRole(ctx context.Context, userID string, role domain.Role, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), toMillis(now), userID,
	))
}

func (r *usersRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		toMillis(at), userID,
	))
}

func (r *usersRepo) MarkEmailVerified(ctx context.Context, userID string, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx, `
		UPDATE users
		SET status = 'active',
			verification_token_hash = NULL,
			email_verified_at = ?1,
			updated_at = ?1
		WHERE id = ?2 AND status = 'pending'`,
		toMillis(now), userID,
	))
}

func (r *usersRepo) SetVerificationToken(ctx context.Context, userID, tokenHash string, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET verification_token_hash = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		tokenHash, toMillis(now), userID,
	))
}

func (r *usersRepo) VerifyEmail(ctx context.Context, tokenHash string, now time.Time) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET status = 'active',
			verification_token_hash = NULL,
			email_verified_at = ?1,
			updated_at = ?1
		WHERE verification_token_hash = ?2 AND status = 'pending'
		RETURNING `+userColumns,
		toMillis(now), tokenHash,
	)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ? WHERE id = ?`,
		tokenHash, toMillis(expiresAt), toMillis(now), userID,
	))
}

func (r *usersRepo) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET password_hash = ?1,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = ?2
		WHERE reset_token_hash = ?3
			AND reset_token_expires_at > ?2
			AND status != 'inactive'
		RETURNING `+userColumns,
		newPasswordHash, toMillis(now), tokenHash,
	)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET reset_token_hash = NULL, reset_token_expires_at = NULL
		WHERE reset_token_hash IS NOT NULL AND reset_token_expires_at <= ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *usersRepo) UpdateMFASecret(ctx context.Context, userID string, secret string, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET mfa_secret = ?, mfa_enabled_at = NULL, updated_at = ? WHERE id = ?`,
		secret, toMillis(now), userID,
	))
}

func (r *usersRepo) EnableMFA(ctx context.Context, userID string, at time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET mfa_enabled_at = ?1, updated_at = ?1 WHERE id = ?2 AND mfa_secret IS NOT NULL`,
		toMillis(at), userID,
	))
}

func (r *usersRepo) DisableMFA(ctx context.Context, userID string, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE users SET mfa_secret = NULL, mfa_enabled_at = NULL, updated_at = ? WHERE id = ?`,
		toMillis(now), userID,
	))
}
