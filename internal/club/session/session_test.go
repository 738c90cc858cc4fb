package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager() (*Manager, *MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Now = clock.Now
	return &Manager{
		Store:       store,
		CookieName:  "sid",
		Lifetime:    2 * time.Hour,
		RotateAfter: 30 * time.Minute,
		Secure:      true,
		Now:         clock.Now,
	}, store, clock
}

// startWith runs Start for a request carrying cookie (may be nil) and
// returns the session plus the cookie the response set.
func startWith(t *testing.T, m *Manager, cookie *http.Cookie) (*Session, *http.Cookie) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()

	s, err := m.Start(rec, req)
	require.NoError(t, err)
	return s, responseCookie(t, rec, m.CookieName)
}

func responseCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			require.Nil(t, found, "session cookie set more than once")
			found = c
		}
	}
	require.NotNil(t, found)
	return found
}

func TestStartCreatesSession(t *testing.T) {
	m, store, _ := newTestManager()

	s, c := startWith(t, m, nil)
	require.NotEmpty(t, s.ID())
	require.False(t, s.IsLoggedIn())
	require.False(t, s.IsAdmin())
	require.Empty(t, s.UserID())

	require.Equal(t, s.ID(), c.Value)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteStrictMode, c.SameSite)
	require.Equal(t, "/", c.Path)
	require.Equal(t, int((2 * time.Hour).Seconds()), c.MaxAge)
	require.Equal(t, 1, store.Len())
}

func TestStartIsIdempotentWithinRotationWindow(t *testing.T) {
	m, _, clock := newTestManager()

	first, c := startWith(t, m, nil)
	clock.Advance(29 * time.Minute)

	second, _ := startWith(t, m, c)
	require.Equal(t, first.ID(), second.ID())
	require.True(t, first.CreatedAt().Equal(second.CreatedAt()))
}

func TestStartRotatesAfterThirtyMinutes(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newTestManager()

	s, c := startWith(t, m, nil)
	require.NoError(t, s.SetFlash(ctx, "hello"))
	oldID := s.ID()

	clock.Advance(31 * time.Minute)

	rotated, c2 := startWith(t, m, c)
	require.NotEqual(t, oldID, rotated.ID())
	require.Equal(t, rotated.ID(), c2.Value)
	require.True(t, rotated.CreatedAt().Equal(clock.Now()))

	msg, err := rotated.PopFlash(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", msg)

	old, err := store.Get(ctx, oldID)
	require.NoError(t, err)
	require.Equal(t, rotated.ID(), old.ReplacedBy)
	require.Empty(t, old.Flash, "retired record carries no state")

	clock.Advance(RotationGrace)
	_, err = store.Get(ctx, oldID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRotatedCookieForwardsDuringGrace(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	s, err := m.Start(httptest.NewRecorder(), req)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, domain.User{ID: "u1", Email: "m@example.com", Role: domain.RoleMember}))
	oldCookie := &http.Cookie{Name: "sid", Value: s.ID()}

	clock.Advance(31 * time.Minute)
	rotated, c := startWith(t, m, oldCookie)
	require.NotEqual(t, oldCookie.Value, rotated.ID())

	// A request sent with the old cookie before the rotation reached the
	// browser lands on the rotated session.
	clock.Advance(2 * time.Second)
	late, lateCookie := startWith(t, m, oldCookie)
	require.Equal(t, rotated.ID(), late.ID())
	require.Equal(t, c.Value, lateCookie.Value)
	require.Equal(t, "u1", late.UserID())

	clock.Advance(RotationGrace)
	fresh, _ := startWith(t, m, oldCookie)
	require.False(t, fresh.IsLoggedIn())
	require.NotEqual(t, rotated.ID(), fresh.ID())

	still, _ := startWith(t, m, c)
	require.Equal(t, rotated.ID(), still.ID())
	require.True(t, still.IsLoggedIn())
}

func TestRefreshRotatesOnRoleChange(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	rec := httptest.NewRecorder()
	s, err := m.Start(rec, req)
	require.NoError(t, err)

	u := domain.User{ID: "u1", Email: "m@example.com", Role: domain.RoleMember, Profile: domain.Profile{Name: "Mo"}}
	require.NoError(t, s.Login(ctx, u))
	memberID := s.ID()

	u.Profile.Name = "Morgan"
	require.NoError(t, s.Refresh(ctx, u))
	require.Equal(t, memberID, s.ID(), "display changes keep the identifier")
	require.Equal(t, "Morgan", s.DisplayName())

	u.Role = domain.RoleAdmin
	require.NoError(t, s.Refresh(ctx, u))
	require.NotEqual(t, memberID, s.ID())
	require.True(t, s.IsAdmin())

	_, err = store.Get(ctx, memberID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, s.ID(), responseCookie(t, rec, "sid").Value)
}

func TestStartIgnoresUnknownCookie(t *testing.T) {
	m, _, _ := newTestManager()

	for _, v := range []string{"garbage", "", strings.Repeat("A", 43)} {
		s, c := startWith(t, m, &http.Cookie{Name: "sid", Value: v})
		require.NotEqual(t, v, s.ID())
		require.Equal(t, s.ID(), c.Value)
	}
}

func TestStartExpiredRecordStartsFresh(t *testing.T) {
	m, _, clock := newTestManager()

	s, c := startWith(t, m, nil)
	clock.Advance(3 * time.Hour)

	fresh, _ := startWith(t, m, c)
	require.NotEqual(t, s.ID(), fresh.ID())
}

func TestLoginRotatesAndStoresUser(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	rec := httptest.NewRecorder()
	s, err := m.Start(rec, req)
	require.NoError(t, err)
	anonID := s.ID()

	u := domain.User{ID: "01HZY", Email: "ada@example.com", Role: domain.RoleAdmin, Profile: domain.Profile{Name: "Ada"}}
	require.NoError(t, s.Login(ctx, u))

	require.NotEqual(t, anonID, s.ID())
	require.True(t, s.IsLoggedIn())
	require.True(t, s.IsAdmin())
	require.Equal(t, "01HZY", s.UserID())
	require.Equal(t, "Ada", s.DisplayName())

	_, err = store.Get(ctx, anonID)
	require.ErrorIs(t, err, ErrNotFound)

	c := responseCookie(t, rec, "sid")
	require.Equal(t, s.ID(), c.Value)
}

func TestLogoutDestroysSession(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager()

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	s, err := m.Start(rec, req)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, domain.User{ID: "u1", Email: "m@example.com", Role: domain.RoleMember}))
	id := s.ID()

	require.NoError(t, s.Logout(ctx))
	require.False(t, s.IsLoggedIn())
	require.Empty(t, s.UserID())
	require.Empty(t, s.CSRFToken())

	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	c := responseCookie(t, rec, "sid")
	require.Empty(t, c.Value)
	require.Equal(t, -1, c.MaxAge)
}

type failingStore struct{}

var errDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (Data, error) {
	return Data{}, errDown
}

func (failingStore) Put(context.Context, string, Data, time.Duration) error {
	return errDown
}

func (failingStore) Delete(context.Context, string) error {
	return errDown
}

func TestMiddleware(t *testing.T) {
	t.Run("places session in context", func(t *testing.T) {
		m, _, _ := newTestManager()

		var got *Session
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = FromContext(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotNil(t, got)
		require.NotEmpty(t, got.ID())
	})

	t.Run("store failure is a generic 500", func(t *testing.T) {
		m := &Manager{Store: failingStore{}}
		called := false
		h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.False(t, called)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.NotContains(t, rec.Body.String(), "store down")
	})
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := NewMemoryStore()
	s.Now = clock.Now

	require.NoError(t, s.Put(ctx, "a", Data{UserID: "1"}, time.Minute))
	require.NoError(t, s.Put(ctx, "b", Data{UserID: "2"}, time.Hour))

	clock.Advance(2 * time.Minute)

	_, err := s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, 1, s.Sweep())
	require.Equal(t, 1, s.Len())

	d, err := s.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "2", d.UserID)
}
