package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
)

const (
	msgRegistered    = "Thanks for joining! We sent you an email. Follow the link in it to confirm your address, then sign in."
	msgResetSent     = "If an account exists for that email, we have sent a link to reset your password."
	msgResetDone     = "Your password has been changed. You can sign in now."
	msgEmailVerified = "Thanks, your email address is confirmed. You can sign in now."
	msgSignedOut     = "You have been signed out."
	msgResent        = "If that account is waiting for confirmation, we have sent a new link."
)

// AuthHandler serves the sign-in, registration and recovery forms.
type AuthHandler struct {
	*views
	AuthService *service.AuthService
}

type loginData struct {
	NeedCode bool
}

type resetData struct {
	Token string
}

// HandleLoginForm shows the sign-in form. Signed-in members go straight to
// their account.
func (h *AuthHandler) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	if sess := session.FromContext(r.Context()); sess != nil && sess.IsLoggedIn() {
		http.Redirect(w, r, "/account", http.StatusSeeOther)
		return
	}

	p, err := h.page(r, "Sign in")
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	p.Form = url.Values{}
	if next := r.URL.Query().Get("next"); next != "" {
		p.Form.Set("next", safeNext(next, ""))
	}
	p.Data = loginData{}
	h.render(w, r, http.StatusOK, "login", p)
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	in := service.LoginInput{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Code:     r.PostFormValue("code"),
	}

	u, err := h.AuthService.Login(ctx, sess, in, requestMeta(r))
	if err != nil {
		needCode := errors.Is(err, service.ErrMFARequired) || errors.Is(err, service.ErrInvalidMFACode)
		h.form(w, r, "login", "Sign in", err, loginData{NeedCode: needCode})
		return
	}

	h.flashRedirect(w, r, safeNext(r.PostFormValue("next"), "/account"), "Welcome back, "+u.DisplayName()+".")
}

func (h *AuthHandler) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, http.StatusOK, "register", "Join", nil)
}

func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	in := service.RegisterInput{
		Email:           r.PostFormValue("email"),
		Name:            r.PostFormValue("name"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	if _, err := h.AuthService.Register(r.Context(), in, requestMeta(r)); err != nil {
		h.form(w, r, "register", "Join", err, nil)
		return
	}

	h.flashRedirect(w, r, "/auth/login", msgRegistered)
}

// HandleVerifyEmail consumes the emailed verification token.
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	_, err := h.AuthService.VerifyEmail(r.Context(), r.URL.Query().Get("token"), requestMeta(r))
	if errors.Is(err, service.ErrInvalidToken) {
		h.message(w, r, http.StatusBadRequest, "Link expired", "This confirmation link is invalid or has already been used.")
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	h.flashRedirect(w, r, "/auth/login", msgEmailVerified)
}

func (h *AuthHandler) HandleForgotForm(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, http.StatusOK, "forgot_password", "Reset your password", nil)
}

// HandleForgot answers the same way whether or not the account exists.
func (h *AuthHandler) HandleForgot(w http.ResponseWriter, r *http.Request) {
	in := service.ForgotPasswordInput{Email: r.PostFormValue("email")}
	if err := h.AuthService.RequestPasswordReset(r.Context(), in, requestMeta(r)); err != nil {
		h.form(w, r, "forgot_password", "Reset your password", err, nil)
		return
	}

	h.flashRedirect(w, r, "/auth/login", msgResetSent)
}

func (h *AuthHandler) HandleResendForm(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, http.StatusOK, "resend_verification", "Confirm your email", nil)
}

// HandleResend answers the same way whether or not a pending account exists.
func (h *AuthHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	in := service.ResendVerificationInput{Email: r.PostFormValue("email")}
	if err := h.AuthService.ResendVerification(r.Context(), in, requestMeta(r)); err != nil {
		h.form(w, r, "resend_verification", "Confirm your email", err, nil)
		return
	}

	h.flashRedirect(w, r, "/auth/login", msgResent)
}

func (h *AuthHandler) HandleResetForm(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		h.message(w, r, http.StatusBadRequest, "Link expired", "This reset link is invalid. Please request a new one.")
		return
	}
	h.show(w, r, http.StatusOK, "reset_password", "Choose a new password", resetData{Token: token})
}

func (h *AuthHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	in := service.ResetPasswordInput{
		Token:           r.PostFormValue("token"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	if err := h.AuthService.ResetPassword(r.Context(), in, requestMeta(r)); err != nil {
		h.form(w, r, "reset_password", "Choose a new password", err, resetData{Token: in.Token})
		return
	}

	h.flashRedirect(w, r, "/auth/login", msgResetDone)
}

func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.AuthService.Logout(ctx, session.FromContext(ctx), requestMeta(r)); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.flashRedirect(w, r, "/", msgSignedOut)
}
