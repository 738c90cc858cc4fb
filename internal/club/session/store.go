package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when no live record exists for an id.
var ErrNotFound = errors.New("session: not found")

// Data is the server-side state of one session. It is serialised as JSON by
// stores that leave the process.
type Data struct {
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role,omitempty"`
	CSRFToken string    `json:"csrf_token,omitempty"`
	Flash     string    `json:"flash,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// ReplacedBy is set on a record retired by periodic rotation. It names
	// the successor for the short grace period the old record lives on.
	ReplacedBy string `json:"replaced_by,omitempty"`
}

// Store persists session data by id. Records expire ttl after the last Put.
type Store interface {
	Get(ctx context.Context, id string) (Data, error)
	Put(ctx context.Context, id string, d Data, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
