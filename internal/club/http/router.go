// Package http wires the club website's routes, middleware and handlers.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/content"
	"github.com/aussiebroadwan/clubhouse/internal/club/csrf"
	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/metrics"
	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
	"github.com/aussiebroadwan/clubhouse/internal/club/upload"
	"github.com/aussiebroadwan/clubhouse/internal/club/web"
	"github.com/aussiebroadwan/clubhouse/pkg/httpx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	views        *views

	store    store.Store
	Sessions *session.Manager
	Metrics  *metrics.Metrics
	Storage  upload.Storage

	// MaxUploadBytes bounds multipart bodies on the profile form.
	MaxUploadBytes int64

	// ReadyChecks are pinged by /readyz in addition to the database.
	ReadyChecks map[string]Pinger

	AuthService     *service.AuthService
	ProfileService  *service.ProfileService
	MFAService      *service.MFAService
	AdminService    *service.AdminService
	ActivityService *service.ActivityService

	Now func() time.Time
}

func NewRouter(
	renderer *web.Renderer,
	site content.Site,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		views:        &views{renderer: renderer, site: site},
		store:        st,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger, "/livez", "/readyz", "/metrics"),
		httpx.SecurityHeaders(),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerPages()
	r.registerAuth()
	r.registerAccount()
	r.registerAdmin()
	r.registerMedia()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers h under pattern with per-route metrics.
func (r *Router) handle(pattern string, h http.Handler) {
	r.Mux.Handle(pattern, r.Metrics.Instrument(pattern, h))
}

// html wraps a page handler. The rate limiter runs first so rejected floods
// never reach the session store; CSRF runs once the session is loaded.
func (r *Router) html(h http.HandlerFunc, limit httpx.RateLimitConfig, inner ...httpx.Middleware) http.Handler {
	mws := []httpx.Middleware{
		httpx.RateLimitByIP(limit),
		r.Sessions.Middleware,
		csrf.Protect(r.rejectCSRF),
	}
	return httpx.Chain(h, append(mws, inner...)...)
}

// rejectCSRF audits the rejection and renders the generic expired-form page.
func (r *Router) rejectCSRF(w http.ResponseWriter, req *http.Request) {
	var userID string
	if sess := session.FromContext(req.Context()); sess != nil {
		userID = sess.UserID()
	}
	r.ActivityService.Record(req.Context(), requestMeta(req), userID, domain.ActionCSRFRejected, map[string]any{
		"path": req.URL.Path,
	})
	r.views.forbidden(w, req, "Your session has expired. Please go back, reload the page and try again.")
}

func (r *Router) registerPages() {
	h := &PagesHandler{views: r.views, Now: r.Now}

	r.handle("GET /{$}", r.html(h.HandleHome, httpx.PublicLimit))
	r.handle("GET /events", r.html(h.HandleEvents, httpx.PublicLimit))
	r.handle("GET /gallery", r.html(h.HandleGallery, httpx.PublicLimit))
	r.handle("GET /team", r.html(h.HandleTeam, httpx.PublicLimit))

	// Everything unmatched renders the site's 404 page.
	r.handle("/", r.html(h.HandleNotFound, httpx.PublicLimit))
}

func (r *Router) registerAuth() {
	h := &AuthHandler{views: r.views, AuthService: r.AuthService}

	// Form pages - lenient rate limit
	r.handle("GET /auth/login", r.html(h.HandleLoginForm, httpx.LenientLimit))
	r.handle("GET /auth/register", r.html(h.HandleRegisterForm, httpx.LenientLimit))
	r.handle("GET /auth/forgot-password", r.html(h.HandleForgotForm, httpx.LenientLimit))
	r.handle("GET /auth/reset-password", r.html(h.HandleResetForm, httpx.LenientLimit))

	// Credential submissions - strict rate limit by IP, on top of the
	// per-email login throttle
	r.handle("POST /auth/login", r.html(h.HandleLogin, httpx.StrictLimit))
	r.handle("POST /auth/register", r.html(h.HandleRegister, httpx.StrictLimit))
	r.handle("POST /auth/reset-password", r.html(h.HandleReset, httpx.StrictLimit))

	// Mail senders are also limited per source and recipient, so one client
	// cannot flood an inbox. Keying on the pair keeps others from locking a
	// member out of their own reset mail.
	r.handle("GET /auth/resend-verification", r.html(h.HandleResendForm, httpx.LenientLimit))
	r.handle("POST /auth/forgot-password", r.html(h.HandleForgot, httpx.StrictLimit,
		httpx.RateLimitByIPAndFormField(httpx.MailLimit, "email")))
	r.handle("POST /auth/resend-verification", r.html(h.HandleResend, httpx.StrictLimit,
		httpx.RateLimitByIPAndFormField(httpx.MailLimit, "email")))
	r.handle("GET /auth/verify-email", r.html(h.HandleVerifyEmail, httpx.StrictLimit))

	r.handle("POST /auth/logout", r.html(h.HandleLogout, httpx.ModerateLimit))
}

func (r *Router) registerAccount() {
	h := &AccountHandler{
		views:           r.views,
		ProfileService:  r.ProfileService,
		MFAService:      r.MFAService,
		ActivityService: r.ActivityService,
	}
	login := requireLogin(r.store, r.views)

	maxUpload := r.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = upload.DefaultMaxBytes
	}

	r.handle("GET /account", r.html(h.HandleShow, httpx.LenientLimit, login))

	// Multipart bodies are capped before the CSRF check parses them.
	r.handle("POST /account/profile", httpx.Chain(
		r.html(h.HandleProfile, httpx.ModerateLimit, login),
		maxBody(maxUpload+64<<10),
	))
	// Endpoints that check a secret are limited per member as well, so
	// spreading guesses over many addresses does not help.
	perMember := httpx.RateLimitByKey(httpx.StrictLimit, memberKey)
	r.handle("POST /account/password", r.html(h.HandlePassword, httpx.StrictLimit, login, perMember))

	r.handle("POST /account/mfa/enroll", r.html(h.HandleMFAEnroll, httpx.ModerateLimit, login))
	// Strict: prevents brute force of TOTP codes
	r.handle("POST /account/mfa/verify", r.html(h.HandleMFAVerify, httpx.StrictLimit, login, perMember))
	r.handle("POST /account/mfa/disable", r.html(h.HandleMFADisable, httpx.StrictLimit, login, perMember))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{views: r.views, AdminService: r.AdminService}
	login := requireLogin(r.store, r.views)
	admin := requireAdmin(r.views)

	r.handle("GET /admin", r.html(h.HandleDashboard, httpx.ModerateLimit, login, admin))
	r.handle("POST /admin/users/{id}/status", r.html(h.HandleSetStatus, httpx.ModerateLimit, login, admin))
}

func (r *Router) registerMedia() {
	r.handle("GET /media/{key...}",
		httpx.Chain(&MediaHandler{Storage: r.Storage},
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSystem() {
	deps := map[string]Pinger{"database": r.store}
	for name, p := range r.ReadyChecks {
		deps[name] = p
	}

	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, deps),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.handle("GET /metrics",
		httpx.Chain(r.Metrics.Handler(),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
