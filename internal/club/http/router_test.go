package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/aussiebroadwan/clubhouse/internal/club/content"
	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/mailer"
	"github.com/aussiebroadwan/clubhouse/internal/club/metrics"
	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/internal/club/store/drivers/sqlite"
	"github.com/aussiebroadwan/clubhouse/internal/club/upload"
	"github.com/aussiebroadwan/clubhouse/internal/club/web"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/aussiebroadwan/clubhouse/pkg/httpx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const (
	memberEmail = "a@x.com"
	password    = "Str0ng!Pass"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type testApp struct {
	srv   *httptest.Server
	store *sqlite.Store
	mail  *mailer.MemoryMailer
	auth  *service.AuthService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	storage, err := upload.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	renderer, err := web.NewRenderer()
	require.NoError(t, err)

	m := metrics.New()
	mail := &mailer.MemoryMailer{}
	hasher := &cryptox.Hasher{
		Params: cryptox.Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16},
		Pepper: "pepper",
	}
	activity := &service.ActivityService{Store: st, Metrics: m}
	mfa := &service.MFAService{Store: st, Issuer: "Test Club", Activity: activity}
	auth := &service.AuthService{
		Store:    st,
		Hasher:   hasher,
		Policy:   service.DefaultPasswordPolicy,
		Throttle: &service.LoginThrottle{Store: st},
		MFA:      mfa,
		Activity: activity,
		Mailer:   mail,
		SiteName: "Test Club",
	}

	rt := NewRouter(renderer, content.Default(), "test", st, slogx.Discard())
	rt.Sessions = &session.Manager{Store: session.NewMemoryStore()}
	rt.Metrics = m
	rt.Storage = storage
	rt.AuthService = auth
	rt.MFAService = mfa
	rt.ActivityService = activity
	rt.ProfileService = &service.ProfileService{
		Store:    st,
		Hasher:   hasher,
		Policy:   service.DefaultPasswordPolicy,
		Uploads:  upload.NewImageValidator(64 << 10),
		Storage:  storage,
		Activity: activity,
	}
	rt.AdminService = &service.AdminService{Store: st, Activity: activity}
	rt.ApplyRoutes()

	srv := httptest.NewServer(rt)
	t.Cleanup(srv.Close)
	auth.BaseURL = srv.URL

	return &testApp{srv: srv, store: st, mail: mail, auth: auth}
}

// client is one browser: its own cookie jar, redirects not followed.
type client struct {
	t    *testing.T
	app  *testApp
	http *http.Client
}

func (a *testApp) newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{
		t:   t,
		app: a,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *client) do(req *http.Request) (*http.Response, string) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(body)
}

func (c *client) get(path string) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.app.srv.URL+path, nil)
	require.NoError(c.t, err)
	return c.do(req)
}

// token fetches the session's CSRF token from a page that always renders it.
func (c *client) token() string {
	c.t.Helper()
	_, body := c.get("/auth/register")
	m := csrfPattern.FindStringSubmatch(body)
	require.NotNil(c.t, m, "no csrf token on page")
	return m[1]
}

func (c *client) post(path string, vals url.Values) (*http.Response, string) {
	c.t.Helper()
	if vals == nil {
		vals = url.Values{}
	}
	if !vals.Has("csrf_token") {
		vals.Set("csrf_token", c.token())
	}
	req, err := http.NewRequest(http.MethodPost, c.app.srv.URL+path, strings.NewReader(vals.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) login(email, pw string) *http.Response {
	c.t.Helper()
	resp, _ := c.post("/auth/login", url.Values{"email": {email}, "password": {pw}})
	return resp
}

func (c *client) sessionID() string {
	c.t.Helper()
	u, err := url.Parse(c.app.srv.URL)
	require.NoError(c.t, err)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == session.DefaultCookieName {
			return ck.Value
		}
	}
	return ""
}

func (a *testApp) mailedToken(t *testing.T, addr string) string {
	t.Helper()
	msg, ok := a.mail.Last(addr)
	require.True(t, ok)
	_, rest, found := strings.Cut(msg.Body, "?token=")
	require.True(t, found)
	token, _, _ := strings.Cut(rest, "\n")
	return token
}

// createMember registers and verifies an account through the service layer.
func (a *testApp) createMember(t *testing.T, email string, role domain.Role) domain.User {
	t.Helper()
	ctx := context.Background()

	_, err := a.auth.Register(ctx, service.RegisterInput{Email: email, Password: password, ConfirmPassword: password}, service.RequestMeta{})
	require.NoError(t, err)
	u, err := a.auth.VerifyEmail(ctx, a.mailedToken(t, email), service.RequestMeta{})
	require.NoError(t, err)

	if role != domain.RoleMember {
		require.NoError(t, a.store.Users().UpdateRole(ctx, u.ID, role, u.UpdatedAt))
		u.Role = role
	}
	return u
}

func TestRegisterVerifyLoginLogout(t *testing.T) {
	app := newTestApp(t)
	c := app.newClient(t)

	resp, _ := c.get("/auth/register")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	t.Run("forged csrf token", func(t *testing.T) {
		resp, body := c.post("/auth/register", url.Values{
			"csrf_token": {"forged"},
			"email":      {memberEmail},
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Contains(t, body, "Your session has expired")
	})

	t.Run("weak password", func(t *testing.T) {
		resp, body := c.post("/auth/register", url.Values{
			"email":            {memberEmail},
			"password":         {"password"},
			"confirm_password": {"password"},
		})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		require.Contains(t, body, "Password needs")
		require.Contains(t, body, `value="a@x.com"`)
		require.NotContains(t, body, `value="password"`)
	})

	resp, _ = c.post("/auth/register", url.Values{
		"email":            {"A@X.com"},
		"name":             {"Alex"},
		"password":         {password},
		"confirm_password": {password},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/auth/login", resp.Header.Get("Location"))

	_, body := c.get("/auth/login")
	require.Contains(t, body, "Thanks for joining!")

	t.Run("duplicate email", func(t *testing.T) {
		resp, body := c.post("/auth/register", url.Values{
			"email":            {"a@X.COM"},
			"password":         {password},
			"confirm_password": {password},
		})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		require.Contains(t, body, "An account with this email already exists.")
	})

	resp, body = c.post("/auth/login", url.Values{"email": {memberEmail}, "password": {password}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, body, "Please verify your email address")

	resp, _ = c.get("/auth/verify-email?token=" + url.QueryEscape(app.mailedToken(t, memberEmail)))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	before := c.sessionID()
	resp = c.login(memberEmail, password)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/account", resp.Header.Get("Location"))
	require.NotEqual(t, before, c.sessionID(), "login rotates the session id")

	resp, body = c.get("/account")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Welcome back, Alex.")
	require.Contains(t, body, memberEmail)

	resp, _ = c.get("/admin")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = c.post("/auth/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	resp, _ = c.get("/account")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/auth/login?next=%2Faccount", resp.Header.Get("Location"))
}

func TestLoginLockoutOverHTTP(t *testing.T) {
	app := newTestApp(t)
	app.createMember(t, memberEmail, domain.RoleMember)
	c := app.newClient(t)

	for range service.DefaultMaxLoginAttempts {
		resp, body := c.post("/auth/login", url.Values{"email": {memberEmail}, "password": {"Wr0ng!Pass"}})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, body, "Invalid email or password.")
	}

	resp, body := c.post("/auth/login", url.Values{"email": {memberEmail}, "password": {password}})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	require.Contains(t, body, "Too many failed attempts. Please try again in 15 minutes.")
}

func TestPasswordResetOverHTTP(t *testing.T) {
	app := newTestApp(t)
	app.createMember(t, memberEmail, domain.RoleMember)
	c := app.newClient(t)
	sentBefore := len(app.mail.Sent())

	resp, _ := c.post("/auth/forgot-password", url.Values{"email": {"nobody@x.com"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Len(t, app.mail.Sent(), sentBefore)

	resp, _ = c.post("/auth/forgot-password", url.Values{"email": {memberEmail}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	token := app.mailedToken(t, memberEmail)

	resp, body := c.get("/auth/reset-password?token=" + url.QueryEscape(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `name="token" value="`+token+`"`)

	const newPassword = "N3w!Passw0rd"
	reset := url.Values{"token": {token}, "password": {newPassword}, "confirm_password": {newPassword}}

	resp, _ = c.post("/auth/reset-password", reset)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, body = c.post("/auth/reset-password", reset)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body, "This link is invalid or has expired.")

	require.Equal(t, http.StatusSeeOther, c.login(memberEmail, newPassword).StatusCode)
}

func TestResendVerificationOverHTTP(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	_, err := app.auth.Register(ctx, service.RegisterInput{Email: memberEmail, Password: password, ConfirmPassword: password}, service.RequestMeta{})
	require.NoError(t, err)
	first := app.mailedToken(t, memberEmail)

	c := app.newClient(t)
	resp, body := c.get("/auth/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `href="/auth/resend-verification"`)

	resp, body = c.get("/auth/resend-verification")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `action="/auth/resend-verification"`)

	resp, _ = c.post("/auth/resend-verification", url.Values{"email": {memberEmail}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/auth/login", resp.Header.Get("Location"))
	second := app.mailedToken(t, memberEmail)
	require.NotEqual(t, first, second)

	resp, _ = c.get("/auth/verify-email?token=" + url.QueryEscape(first))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = c.get("/auth/verify-email?token=" + url.QueryEscape(second))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, http.StatusSeeOther, c.login(memberEmail, password).StatusCode)
}

func TestMailFormsLimitedPerRecipient(t *testing.T) {
	app := newTestApp(t)
	app.createMember(t, memberEmail, domain.RoleMember)
	c := app.newClient(t)
	sentBefore := len(app.mail.Sent())

	for i := 0; i < httpx.MailLimit.Burst; i++ {
		resp, _ := c.post("/auth/forgot-password", url.Values{"email": {memberEmail}})
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	}
	resp, _ := c.post("/auth/forgot-password", url.Values{"email": {memberEmail}})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	require.Len(t, app.mail.Sent(), sentBefore+httpx.MailLimit.Burst)

	// Another recipient is unaffected.
	resp, _ = c.post("/auth/forgot-password", url.Values{"email": {"other@x.com"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestAdminDeactivatesMember(t *testing.T) {
	app := newTestApp(t)
	app.createMember(t, "admin@x.com", domain.RoleAdmin)
	member := app.createMember(t, memberEmail, domain.RoleMember)

	memberClient := app.newClient(t)
	require.Equal(t, http.StatusSeeOther, memberClient.login(memberEmail, password).StatusCode)
	resp, _ := memberClient.get("/account")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	adminClient := app.newClient(t)
	require.Equal(t, http.StatusSeeOther, adminClient.login("admin@x.com", password).StatusCode)

	resp, body := adminClient.get("/admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, memberEmail)

	resp, _ = adminClient.post("/admin/users/"+member.ID+"/status", url.Values{"status": {"inactive"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	got, err := app.store.Users().GetUserByID(context.Background(), member.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInactive, got.Status)

	// The member's live session ends on the next request.
	resp, _ = memberClient.get("/account")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, http.StatusUnauthorized, memberClient.login(memberEmail, password).StatusCode)

	resp, _ = adminClient.post("/admin/users/UNKNOWN/status", url.Values{"status": {"active"}})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPromotionRotatesLiveSession(t *testing.T) {
	app := newTestApp(t)
	member := app.createMember(t, memberEmail, domain.RoleMember)

	c := app.newClient(t)
	require.Equal(t, http.StatusSeeOther, c.login(memberEmail, password).StatusCode)
	resp, _ := c.get("/account")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	memberSID := c.sessionID()
	require.NotEmpty(t, memberSID)

	resp, _ = c.get("/admin")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, memberSID, c.sessionID())

	require.NoError(t, app.store.Users().UpdateRole(context.Background(), member.ID, domain.RoleAdmin, member.UpdatedAt))

	resp, _ = c.get("/account")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	adminSID := c.sessionID()
	require.NotEmpty(t, adminSID)
	require.NotEqual(t, memberSID, adminSID, "privilege change must issue a new session id")

	resp, _ = c.get("/admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, adminSID, c.sessionID())

	// The pre-promotion identifier is gone.
	stale := app.newClient(t)
	u, err := url.Parse(app.srv.URL)
	require.NoError(t, err)
	stale.http.Jar.SetCookies(u, []*http.Cookie{{Name: session.DefaultCookieName, Value: memberSID, Path: "/"}})
	resp, _ = stale.get("/account")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestProfileUploadAndMedia(t *testing.T) {
	app := newTestApp(t)
	u := app.createMember(t, memberEmail, domain.RoleMember)
	c := app.newClient(t)
	require.Equal(t, http.StatusSeeOther, c.login(memberEmail, password).StatusCode)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("csrf_token", c.token()))
	require.NoError(t, mw.WriteField("name", "Alex"))
	fw, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, err = fw.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, app.srv.URL+"/account/profile", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, _ := c.do(req)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	got, err := app.store.Users().GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "Alex", got.Profile.Name)
	require.NotEmpty(t, got.Profile.AvatarKey)

	resp, body := c.get("/media/" + got.Profile.AvatarKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, string(png), body)

	resp, _ = c.get("/media/avatars/" + u.ID + "/missing.png")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = c.get("/media/avatars/" + u.ID)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotEmpty(t, body)

	resp, body = c.get("/account")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "/media/"+got.Profile.AvatarKey)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)
	c := app.newClient(t)

	resp, body := c.get("/livez")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp, body = c.get("/readyz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "ok", health.Checks["database"])

	_, _ = c.get("/events")

	resp, body = c.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `clubhouse_http_requests_total{method="GET",route="GET /events",status="200"} 1`)
}

func TestPublicPages(t *testing.T) {
	app := newTestApp(t)
	c := app.newClient(t)

	for _, path := range []string{"/", "/events", "/gallery", "/team", "/auth/login", "/auth/forgot-password"} {
		resp, body := c.get(path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.Contains(t, body, "The Clubhouse", path)
	}

	resp, _ := c.get("/no-such-page")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = c.get("/auth/reset-password")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
