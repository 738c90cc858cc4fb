package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/clubhouse/internal/club/upload"
	"github.com/aussiebroadwan/clubhouse/pkg/slogx"
)

// MediaHandler streams uploaded objects. Keys carry a random ULID, so they
// are not guessable from a member id alone.
type MediaHandler struct {
	Storage upload.Storage
}

func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !upload.ValidKey(key) {
		http.NotFound(w, r)
		return
	}

	rc, obj, err := h.Storage.Get(r.Context(), key)
	if errors.Is(err, upload.ErrObjectNotFound) || errors.Is(err, upload.ErrInvalidKey) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to read object", slog.String("key", key), slog.Any("error", err))
		http.Error(w, genericFailure, http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	ct := obj.ContentType
	if ct == "" {
		ct = upload.ContentTypeForKey(key)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		slogx.FromContext(r.Context()).Warn("media copy interrupted", slog.Any("error", err))
	}
}
