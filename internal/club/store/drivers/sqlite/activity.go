package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
)

type activityRepo struct {
	db DBTX
}

const activityColumns = `id, user_id, action, entity_type, entity_id, details, ip_address, user_agent, created_at`

func (r *activityRepo) Append(ctx context.Context, e domain.ActivityEntry) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("encode activity details: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_logs (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		mapOptionalString(e.UserID),
		e.Action,
		e.EntityType,
		e.EntityID,
		string(details),
		e.IPAddress,
		e.UserAgent,
		toMillis(e.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *activityRepo) ListRecent(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	return r.list(ctx,
		`SELECT `+activityColumns+` FROM activity_logs ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
}

func (r *activityRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	return r.list(ctx,
		`SELECT `+activityColumns+` FROM activity_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
}

func (r *activityRepo) list(ctx context.Context, query string, args ...any) ([]domain.ActivityEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ActivityEntry
	for rows.Next() {
		var (
			e         domain.ActivityEntry
			userID    sql.NullString
			details   string
			createdAt int64
		)
		if err := rows.Scan(
			&e.ID, &userID, &e.Action, &e.EntityType, &e.EntityID,
			&details, &e.IPAddress, &e.UserAgent, &createdAt,
		); err != nil {
			return nil, err
		}
		e.UserID = mapNullStringPtr(userID)
		e.CreatedAt = fromMillis(createdAt)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode activity details %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
