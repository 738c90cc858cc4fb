package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/clubhouse/internal/club/content"
	"github.com/aussiebroadwan/clubhouse/internal/club/csrf"
	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/internal/club/web"
	"github.com/aussiebroadwan/clubhouse/pkg/httpx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

const genericFailure = "Something went wrong. Please try again later."

// secretFields are never echoed back into a re-rendered form.
var secretFields = []string{"password", "confirm_password", "current_password", "new_password", "code", "csrf_token"}

// views renders pages with the chrome every handler shares.
type views struct {
	renderer *web.Renderer
	site     content.Site
}

// page builds the common page data. It issues the CSRF token and consumes
// the flash message, so it must run before anything is written to w.
func (v *views) page(r *http.Request, title string) (web.Page, error) {
	ctx := r.Context()
	p := web.Page{Title: title, Site: v.site}

	sess := session.FromContext(ctx)
	if sess == nil {
		return p, nil
	}

	tok, err := csrf.Token(ctx, sess)
	if err != nil {
		return p, err
	}
	p.CSRFToken = tok

	flash, err := sess.PopFlash(ctx)
	if err != nil {
		return p, err
	}
	p.Flash = flash

	if sess.IsLoggedIn() {
		p.User = &web.Viewer{
			ID:    sess.UserID(),
			Name:  sess.DisplayName(),
			Email: sess.Email(),
			Admin: sess.IsAdmin(),
		}
	}
	return p, nil
}

func (v *views) render(w http.ResponseWriter, r *http.Request, status int, name string, p web.Page) {
	if err := v.renderer.Render(w, status, name, p); err != nil {
		slogx.FromContext(r.Context()).Error("failed to render page", slog.String("page", name), slog.Any("error", err))
		http.Error(w, genericFailure, http.StatusInternalServerError)
	}
}

// show renders name with data and no form state.
func (v *views) show(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	p, err := v.page(r, title)
	if err != nil {
		v.serverError(w, r, err)
		return
	}
	p.Data = data
	v.render(w, r, status, name, p)
}

// form re-renders a form page with the submitted values and an error.
func (v *views) form(w http.ResponseWriter, r *http.Request, name, title string, err error, data any) {
	status, msg, fields, ok := classify(err)
	if !ok {
		v.serverError(w, r, err)
		return
	}

	p, perr := v.page(r, title)
	if perr != nil {
		v.serverError(w, r, perr)
		return
	}
	p.Error = msg
	p.Errors = fields
	p.Form = submitted(r)
	p.Data = data

	var locked *service.LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter.Seconds())+1))
	}
	v.render(w, r, status, name, p)
}

// message renders a standalone notice page.
func (v *views) message(w http.ResponseWriter, r *http.Request, status int, heading, body string) {
	v.show(w, r, status, "message", heading, messageData{Heading: heading, Body: body, LinkURL: "/", LinkText: "Back to the home page"})
}

// serverError logs err and renders the generic failure page. Nothing about
// err reaches the client.
func (v *views) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slogx.FromContext(r.Context()).Error("request failed", slog.Any("error", err))

	p, perr := v.page(r, genericFailure)
	if perr != nil {
		httpx.NoCache(w)
		http.Error(w, genericFailure, http.StatusInternalServerError)
		return
	}
	v.render(w, r, http.StatusInternalServerError, "error", p)
}

func (v *views) notFound(w http.ResponseWriter, r *http.Request) {
	p, err := v.page(r, "Page not found")
	if err != nil {
		v.serverError(w, r, err)
		return
	}
	v.render(w, r, http.StatusNotFound, "error", p)
}

func (v *views) forbidden(w http.ResponseWriter, r *http.Request, title string) {
	p, err := v.page(r, title)
	if err != nil {
		v.serverError(w, r, err)
		return
	}
	v.render(w, r, http.StatusForbidden, "error", p)
}

// classify maps a service error to a status, a page-level message and
// per-field messages. ok is false for anything that is not a user-facing
// outcome.
func classify(err error) (status int, msg string, fields map[string]string, ok bool) {
	var verr *service.ValidationError
	var locked *service.LockedError

	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, "Please correct the highlighted fields.", verr.Fields, true
	case errors.As(err, &locked):
		return http.StatusTooManyRequests, locked.Error(), nil, true
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password.", nil, true
	case errors.Is(err, service.ErrPendingVerification):
		return http.StatusForbidden, "Please verify your email address before signing in. Check your inbox for the link we sent.", nil, true
	case errors.Is(err, service.ErrMFARequired):
		return http.StatusUnauthorized, "Enter your password again together with the code from your authenticator app.", nil, true
	case errors.Is(err, service.ErrInvalidMFACode):
		return http.StatusUnauthorized, "That authentication code is not valid.", map[string]string{"code": "That code is not valid."}, true
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusUnprocessableEntity, "Please correct the highlighted fields.", map[string]string{"email": "An account with this email already exists."}, true
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusBadRequest, "This link is invalid or has expired. Please request a new one.", nil, true
	case errors.Is(err, service.ErrMFAAlreadyEnabled),
		errors.Is(err, service.ErrMFANotEnabled),
		errors.Is(err, service.ErrMFANotEnrolled):
		return http.StatusConflict, capitalise(err.Error()) + ".", nil, true
	case errors.Is(err, service.ErrSelfStatusChange), errors.Is(err, service.ErrInvalidStatus), errors.Is(err, service.ErrStatusPending):
		return http.StatusUnprocessableEntity, capitalise(err.Error()) + ".", nil, true
	}
	return 0, "", nil, false
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// submitted returns the posted form minus anything secret.
func submitted(r *http.Request) url.Values {
	if r.PostForm == nil {
		return url.Values{}
	}
	vals := make(url.Values, len(r.PostForm))
	for k, v := range r.PostForm {
		vals[k] = v
	}
	for _, k := range secretFields {
		vals.Del(k)
	}
	return vals
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:        httpx.IPKeyExtractor(r),
		UserAgent: r.UserAgent(),
	}
}

// flashRedirect stores msg for the next page and redirects with 303.
func (v *views) flashRedirect(w http.ResponseWriter, r *http.Request, to, msg string) {
	if sess := session.FromContext(r.Context()); sess != nil && msg != "" {
		if err := sess.SetFlash(r.Context(), msg); err != nil {
			v.serverError(w, r, err)
			return
		}
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// safeNext accepts only local absolute paths as redirect targets.
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}

type messageData struct {
	Heading  string
	Body     string
	LinkURL  string
	LinkText string
}
