package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
)

type loginAttemptsRepo struct {
	db DBTX
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *loginAttemptsRepo) Get(ctx context.Context, email string) (domain.LoginAttempts, error) {
	var (
		a           domain.LoginAttempts
		windowStart int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT email, failures, window_start FROM login_attempts WHERE email = ?`,
		normaliseEmail(email),
	).Scan(&a.Email, &a.Failures, &windowStart)
	if err != nil {
		return domain.LoginAttempts{}, mapNotFound(err)
	}
	a.WindowStart = fromMillis(windowStart)
	return a, nil
}

func (r *loginAttemptsRepo) RecordFailure(
	ctx context.Context,
	email string,
	now, windowCutoff time.Time,
) (domain.LoginAttempts, error) {
	// SET expressions see the pre-update row, so both CASEs test the old window.
	var (
		a           domain.LoginAttempts
		windowStart int64
	)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO login_attempts (email, failures, window_start)
		VALUES (?1, 1, ?2)
		ON CONFLICT (email) DO UPDATE SET
			failures = CASE
				WHEN login_attempts.window_start <= ?3 THEN 1
				ELSE login_attempts.failures + 1
			END,
			window_start = CASE
				WHEN login_attempts.window_start <= ?3 THEN ?2
				ELSE login_attempts.window_start
			END
		RETURNING email, failures, window_start`,
		normaliseEmail(email), toMillis(now), toMillis(windowCutoff),
	).Scan(&a.Email, &a.Failures, &windowStart)
	if err != nil {
		return domain.LoginAttempts{}, err
	}
	a.WindowStart = fromMillis(windowStart)
	return a, nil
}

func (r *loginAttemptsRepo) Reset(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE email = ?`, normaliseEmail(email))
	return err
}

func (r *loginAttemptsRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE window_start <= ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
