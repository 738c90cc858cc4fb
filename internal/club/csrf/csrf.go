// Package csrf issues per-session anti-forgery tokens and rejects unsafe
// requests that do not echo them back.
package csrf

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/aussiebroadwan/clubhouse/pkg/cryptox"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

const (
	FieldName  = "csrf_token"
	HeaderName = "X-CSRF-Token"
)

// Token returns the session's token, creating and storing one on first use.
func Token(ctx context.Context, sess *session.Session) (string, error) {
	if tok := sess.CSRFToken(); tok != "" {
		return tok, nil
	}

	tok, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	if err := sess.SetCSRFToken(ctx, tok); err != nil {
		return "", err
	}
	return tok, nil
}

// Verify reports whether candidate matches the session's token. It is false
// when no token was ever issued.
func Verify(sess *session.Session, candidate string) bool {
	if sess == nil {
		return false
	}
	return cryptox.TokensEqual(sess.CSRFToken(), candidate)
}

// RejectFunc is called for every request that fails verification.
type RejectFunc func(w http.ResponseWriter, r *http.Request)

// Protect checks the token on POST, PUT, PATCH and DELETE requests. It must
// run after session.Manager.Middleware. Rejections go to reject, or to a
// plain 403 when reject is nil.
func Protect(reject RejectFunc) func(http.Handler) http.Handler {
	if reject == nil {
		reject = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Your session has expired. Please go back, reload the page and try again.", http.StatusForbidden)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			candidate := r.Header.Get(HeaderName)
			if candidate == "" {
				// FormValue parses multipart bodies too, up to its default memory cap.
				candidate = r.FormValue(FieldName)
			}

			if !Verify(session.FromContext(r.Context()), candidate) {
				slogx.FromContext(r.Context()).Warn("csrf token rejected",
					slog.Bool("token_present", candidate != ""),
				)
				reject(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
