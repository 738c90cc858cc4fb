package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/clubhouse/internal/club/domain"
	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
)

const accountActivityLimit = 10

// AccountHandler serves the member's own profile, password and second factor.
type AccountHandler struct {
	*views
	ProfileService  *service.ProfileService
	MFAService      *service.MFAService
	ActivityService *service.ActivityService
}

type accountData struct {
	User                 domain.User
	Enrollment           *service.MFAEnrollment
	BackupCodes          []string
	RemainingBackupCodes int
	Activity             []domain.ActivityEntry
}

// load assembles the account page for u.
func (h *AccountHandler) load(r *http.Request, u domain.User) (accountData, error) {
	ctx := r.Context()
	data := accountData{User: u}

	pending, err := h.MFAService.Pending(u)
	if err != nil {
		return data, err
	}
	data.Enrollment = pending

	if u.MFAEnabled() {
		if data.RemainingBackupCodes, err = h.MFAService.RemainingBackupCodes(ctx, u.ID); err != nil {
			return data, err
		}
	}

	if data.Activity, err = h.ActivityService.ForUser(ctx, u.ID, accountActivityLimit); err != nil {
		return data, err
	}
	return data, nil
}

func (h *AccountHandler) HandleShow(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())
	data, err := h.load(r, u)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.show(w, r, http.StatusOK, "account", "Your account", data)
}

// fail re-renders the account page with err against the submitted form.
func (h *AccountHandler) fail(w http.ResponseWriter, r *http.Request, u domain.User, err error) {
	data, lerr := h.load(r, u)
	if lerr != nil {
		h.serverError(w, r, lerr)
		return
	}
	h.form(w, r, "account", "Your account", err, data)
}

// HandleProfile saves profile fields and an optional new picture.
func (h *AccountHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, _ := currentUser(ctx)

	// The CSRF check already parsed the multipart body.
	in := service.ProfileInput{
		Name:  r.FormValue("name"),
		Phone: r.FormValue("phone"),
		Bio:   r.FormValue("bio"),
	}

	var avatar *service.Avatar
	file, hdr, err := r.FormFile("avatar")
	switch {
	case err == nil:
		defer file.Close()
		avatar = &service.Avatar{Filename: hdr.Filename, Body: file}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, u, &service.ValidationError{Fields: map[string]string{"avatar": "That file is too large."}})
			return
		}
		h.serverError(w, r, err)
		return
	}

	updated, err := h.ProfileService.Update(ctx, u.ID, in, avatar, requestMeta(r))
	if err != nil {
		h.fail(w, r, u, err)
		return
	}

	if err := session.FromContext(ctx).Refresh(ctx, updated); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.flashRedirect(w, r, "/account", "Your profile has been saved.")
}

func (h *AccountHandler) HandlePassword(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	in := service.ChangePasswordInput{
		CurrentPassword: r.PostFormValue("current_password"),
		NewPassword:     r.PostFormValue("new_password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	if err := h.ProfileService.ChangePassword(r.Context(), u.ID, in, requestMeta(r)); err != nil {
		h.fail(w, r, u, err)
		return
	}

	h.flashRedirect(w, r, "/account", "Your password has been changed.")
}

// HandleMFAEnroll starts setup; the account page then shows the new key.
func (h *AccountHandler) HandleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	if _, err := h.MFAService.Enroll(r.Context(), u.ID); err != nil {
		h.fail(w, r, u, err)
		return
	}
	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

// HandleMFAVerify confirms setup. Backup codes are rendered directly, never
// stored in the session, so they are shown exactly once.
func (h *AccountHandler) HandleMFAVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, _ := currentUser(ctx)

	codes, err := h.MFAService.Confirm(ctx, u.ID, r.PostFormValue("code"), requestMeta(r))
	if err != nil {
		h.fail(w, r, u, err)
		return
	}

	updated, err := h.ProfileService.Get(ctx, u.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	data, err := h.load(r, updated)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	data.BackupCodes = codes
	h.show(w, r, http.StatusOK, "account", "Your account", data)
}

func (h *AccountHandler) HandleMFADisable(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	if err := h.MFAService.Disable(r.Context(), u.ID, r.PostFormValue("code"), requestMeta(r)); err != nil {
		h.fail(w, r, u, err)
		return
	}
	h.flashRedirect(w, r, "/account", "Two-factor authentication is now off.")
}
