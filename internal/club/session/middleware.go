package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

type ctxKey struct{}

// WithContext returns a child context carrying s.
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session placed by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware starts a session for every request and places it in the
// request context. A failing session store aborts the request with a 500.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Start(w, r)
		if err != nil {
			slogx.FromContext(r.Context()).Error("session unavailable", slog.Any("error", err))
			http.Error(w, "Something went wrong. Please try again later.", http.StatusInternalServerError)
			return
		}

		ctx := WithContext(r.Context(), s)
		if s.IsLoggedIn() {
			ctx = slogx.WithContext(ctx, slogx.FromContext(ctx).With(slog.String("user_id", s.UserID())))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
