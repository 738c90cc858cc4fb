package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/store"
)

const adminActivityLimit = 50

// AdminHandler serves the member list and recent activity to admins.
type AdminHandler struct {
	*views
	AdminService *service.AdminService
}

type adminData struct {
	Users    service.UserPage
	Activity []domain.ActivityEntry
	PrevPage int
	NextPage int
}

func (h *AdminHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	users, err := h.AdminService.ListUsers(ctx, page)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	activity, err := h.AdminService.RecentActivity(ctx, adminActivityLimit)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	data := adminData{Users: users, Activity: activity}
	if users.Page > 1 {
		data.PrevPage = users.Page - 1
	}
	if users.HasNext() {
		data.NextPage = users.Page + 1
	}
	h.show(w, r, http.StatusOK, "admin", "Administration", data)
}

// HandleSetStatus activates or deactivates the member named in the path.
func (h *AdminHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := currentUser(ctx)

	in := service.StatusInput{Status: r.PostFormValue("status")}
	err := h.AdminService.SetStatus(ctx, actor.ID, r.PathValue("id"), in, requestMeta(r))

	var verr *service.ValidationError
	switch {
	case err == nil:
		h.flashRedirect(w, r, "/admin", "Member updated.")
	case errors.Is(err, store.ErrNotFound):
		h.notFound(w, r)
	case errors.Is(err, service.ErrSelfStatusChange):
		h.flashRedirect(w, r, "/admin", "You cannot change your own status.")
	case errors.Is(err, service.ErrStatusPending):
		h.flashRedirect(w, r, "/admin", "This member has not verified their email yet.")
	case errors.As(err, &verr), errors.Is(err, service.ErrInvalidStatus):
		h.flashRedirect(w, r, "/admin", "Choose active or inactive.")
	default:
		h.serverError(w, r, err)
	}
}
