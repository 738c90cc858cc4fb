package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
	"github.com/aussiebroadwan/clubhouse/pkg/httpx"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

type userCtxKey struct{}

// currentUser returns the user loaded by requireLogin.
func currentUser(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(domain.User)
	return u, ok
}

// requireLogin reloads the session's user on every request. Sessions of
// users that were deactivated or removed are destroyed, so a status change
// takes effect immediately.
func requireLogin(st store.Store, v *views) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess := session.FromContext(ctx)
			if sess == nil || !sess.IsLoggedIn() {
				redirectToLogin(w, r)
				return
			}

			u, err := st.Users().GetUserByID(ctx, sess.UserID())
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				v.serverError(w, r, err)
				return
			}
			if err != nil || u.Status != domain.StatusActive {
				slogx.FromContext(ctx).Info("ending session of unavailable user", slog.String("user_id", sess.UserID()))
				if err := sess.Logout(ctx); err != nil {
					v.serverError(w, r, err)
					return
				}
				redirectToLogin(w, r)
				return
			}

			if sess.Role() != string(u.Role) {
				slogx.FromContext(ctx).Info("role changed, rotating session",
					slog.String("user_id", u.ID),
					slog.String("from", sess.Role()),
					slog.String("to", string(u.Role)),
				)
			}
			if sess.Role() != string(u.Role) || sess.Email() != u.Email || sess.DisplayName() != u.DisplayName() {
				if err := sess.Refresh(ctx, u); err != nil {
					v.serverError(w, r, err)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, userCtxKey{}, u)))
		})
	}
}

// requireAdmin must run after requireLogin. The role is taken from the
// freshly loaded user, not the cached session copy.
func requireAdmin(v *views) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := currentUser(r.Context())
			if !ok || !u.IsAdmin() {
				slogx.FromContext(r.Context()).Warn("admin access denied")
				v.forbidden(w, r, "You do not have access to this page.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// memberKey keys rate limits on the signed-in member. It must run after
// requireLogin.
func memberKey(r *http.Request) string {
	if u, ok := currentUser(r.Context()); ok {
		return "member:" + u.ID
	}
	return ""
}

// maxBody caps the request body before any middleware parses it.
func maxBody(n int64) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := "/auth/login"
	if r.Method == http.MethodGet {
		target += "?next=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
