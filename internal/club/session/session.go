// Package session implements cookie-identified, server-side sessions with
// periodic and login-time identifier rotation.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
)

const (
	DefaultCookieName  = "clubhouse_session"
	DefaultLifetime    = 2 * time.Hour
	DefaultRotateAfter = 30 * time.Minute

	// RotationGrace is how long a periodically rotated identifier keeps
	// resolving to its successor, so requests already in flight with the
	// old cookie are not logged out.
	RotationGrace = 10 * time.Second
)

// Manager issues, loads and rotates sessions. The zero value is not usable;
// Store must be set. Other fields fall back to the defaults above.
type Manager struct {
	Store       Store
	CookieName  string
	Lifetime    time.Duration // idle lifetime of both cookie and record
	RotateAfter time.Duration
	Secure      bool
	Now         func() time.Time
}

func (m *Manager) cookieName() string {
	if m.CookieName == "" {
		return DefaultCookieName
	}
	return m.CookieName
}

func (m *Manager) lifetime() time.Duration {
	if m.Lifetime <= 0 {
		return DefaultLifetime
	}
	return m.Lifetime
}

func (m *Manager) rotateAfter() time.Duration {
	if m.RotateAfter <= 0 {
		return DefaultRotateAfter
	}
	return m.RotateAfter
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

// Start loads the session named by the request cookie or creates a new one.
// A session older than RotateAfter gets a fresh identifier with its contents
// preserved. Every call refreshes the idle lifetime and re-sends the cookie.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request) (*Session, error) {
	ctx := r.Context()
	now := m.now()

	s := &Session{m: m, w: w}

	if c, err := r.Cookie(m.cookieName()); err == nil && validID(c.Value) {
		id, d, err := m.load(ctx, c.Value)
		switch {
		case err == nil:
			s.id = id
			s.data = d
		case errors.Is(err, ErrNotFound):
		default:
			return nil, fmt.Errorf("load session: %w", err)
		}
	}

	if s.id == "" {
		s.data = Data{CreatedAt: now}
		if err := s.assignID(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}

	if now.Sub(s.data.CreatedAt) > m.rotateAfter() {
		s.data.CreatedAt = now
		if err := s.rotate(ctx, true); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.save(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the record for id, following at most one rotation forward.
func (m *Manager) load(ctx context.Context, id string) (string, Data, error) {
	d, err := m.Store.Get(ctx, id)
	if err != nil {
		return "", Data{}, err
	}
	if d.ReplacedBy == "" {
		return id, d, nil
	}

	next, err := m.Store.Get(ctx, d.ReplacedBy)
	if err != nil {
		return "", Data{}, err
	}
	if next.ReplacedBy != "" {
		return "", Data{}, ErrNotFound
	}
	return d.ReplacedBy, next, nil
}

// validID rejects cookie values that could not have come from GenerateToken.
func validID(v string) bool {
	if len(v) != 43 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Session is the per-request handle on one server-side session. It is not
// safe for concurrent use.
type Session struct {
	m    *Manager
	w    http.ResponseWriter
	id   string
	data Data
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.data.CreatedAt }
func (s *Session) IsLoggedIn() bool     { return s.data.UserID != "" }
func (s *Session) IsAdmin() bool        { return s.IsLoggedIn() && s.data.Role == string(domain.RoleAdmin) }
func (s *Session) UserID() string       { return s.data.UserID }
func (s *Session) Email() string        { return s.data.Email }
func (s *Session) Role() string         { return s.data.Role }
func (s *Session) CSRFToken() string    { return s.data.CSRFToken }

// DisplayName is the cached name, or the email when no name was set.
func (s *Session) DisplayName() string {
	if s.data.Name != "" {
		return s.data.Name
	}
	return s.data.Email
}

// Login binds the session to u under a new identifier. The old record is
// deleted so a pre-login identifier cannot be replayed.
func (s *Session) Login(ctx context.Context, u domain.User) error {
	s.data.UserID = u.ID
	s.data.Email = u.Email
	s.data.Name = u.Profile.Name
	s.data.Role = string(u.Role)
	s.data.CreatedAt = s.m.now()
	return s.rotate(ctx, false)
}

// Refresh updates the cached user attributes. A role change is a privilege
// change and moves the session to a new identifier.
func (s *Session) Refresh(ctx context.Context, u domain.User) error {
	if s.data.UserID != u.ID {
		return nil
	}
	roleChanged := s.data.Role != string(u.Role)

	s.data.Email = u.Email
	s.data.Name = u.Profile.Name
	s.data.Role = string(u.Role)

	if roleChanged {
		s.data.CreatedAt = s.m.now()
		return s.rotate(ctx, false)
	}
	return s.save(ctx)
}

// Logout clears all state, deletes the server-side record and expires the
// cookie. The handle is empty afterwards.
func (s *Session) Logout(ctx context.Context) error {
	id := s.id
	s.id = ""
	s.data = Data{CreatedAt: s.m.now()}

	s.setCookie(&http.Cookie{
		Name:     s.m.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.m.Secure,
		SameSite: http.SameSiteStrictMode,
	})

	if id == "" {
		return nil
	}
	if err := s.m.Store.Delete(ctx, id); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// SetCSRFToken stores the anti-forgery token for this session.
func (s *Session) SetCSRFToken(ctx context.Context, token string) error {
	s.data.CSRFToken = token
	return s.save(ctx)
}

// SetFlash stores a one-shot message shown on the next rendered page.
func (s *Session) SetFlash(ctx context.Context, msg string) error {
	s.data.Flash = msg
	return s.save(ctx)
}

// PopFlash returns and clears the pending flash message.
func (s *Session) PopFlash(ctx context.Context) (string, error) {
	msg := s.data.Flash
	if msg == "" {
		return "", nil
	}
	s.data.Flash = ""
	return msg, s.save(ctx)
}

func (s *Session) assignID(ctx context.Context) error {
	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}
	s.id = id
	return s.save(ctx)
}

// rotate moves the session to a new identifier. With forward set the old
// record points at the new one for RotationGrace; otherwise it is deleted.
func (s *Session) rotate(ctx context.Context, forward bool) error {
	old := s.id
	if err := s.assignID(ctx); err != nil {
		return err
	}
	if old == "" {
		return nil
	}
	if forward {
		if err := s.m.Store.Put(ctx, old, Data{ReplacedBy: s.id, CreatedAt: s.data.CreatedAt}, RotationGrace); err != nil {
			return fmt.Errorf("retire rotated session: %w", err)
		}
		return nil
	}
	if err := s.m.Store.Delete(ctx, old); err != nil {
		return fmt.Errorf("delete rotated session: %w", err)
	}
	return nil
}

// save writes the record, refreshing its TTL, and re-sends the cookie.
func (s *Session) save(ctx context.Context) error {
	if s.id == "" {
		return s.assignID(ctx)
	}

	lifetime := s.m.lifetime()
	if err := s.m.Store.Put(ctx, s.id, s.data, lifetime); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.setCookie(&http.Cookie{
		Name:     s.m.cookieName(),
		Value:    s.id,
		Path:     "/",
		MaxAge:   int(lifetime / time.Second),
		HttpOnly: true,
		Secure:   s.m.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// setCookie replaces any session cookie already queued on this response so
// only the latest identifier reaches the client.
func (s *Session) setCookie(c *http.Cookie) {
	h := s.w.Header()
	prefix := c.Name + "="

	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}

	http.SetCookie(s.w, c)
}
