package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/content"
)

// PagesHandler serves the public marketing pages from site content.
type PagesHandler struct {
	*views
	Now func() time.Time
}

type eventsData struct {
	Upcoming []content.Event
	Past     []content.Event
}

func (h *PagesHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *PagesHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	upcoming := h.site.UpcomingEvents(h.now())
	if len(upcoming) > 3 {
		upcoming = upcoming[:3]
	}
	h.show(w, r, http.StatusOK, "home", "", eventsData{Upcoming: upcoming})
}

func (h *PagesHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	h.show(w, r, http.StatusOK, "events", "Events", eventsData{
		Upcoming: h.site.UpcomingEvents(now),
		Past:     h.site.PastEvents(now),
	})
}

func (h *PagesHandler) HandleGallery(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, http.StatusOK, "gallery", "Gallery", nil)
}

func (h *PagesHandler) HandleTeam(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, http.StatusOK, "team", "Our team", nil)
}

func (h *PagesHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.notFound(w, r)
}
