package domain

import "time"

// Action names recorded in the activity log.
const (
	ActionRegister           = "user.register"
	ActionVerifyEmail        = "user.verify_email"
	ActionVerificationResent = "user.verification_resent"
	ActionLoginSuccess       = "auth.login"
	ActionLoginFailed        = "auth.login_failed"
	ActionLoginLocked        = "auth.login_locked"
	ActionLoginPending       = "auth.login_pending"
	ActionLogout             = "auth.logout"
	ActionPasswordRehash     = "auth.password_rehash"
	ActionResetRequested     = "auth.reset_requested"
	ActionResetCompleted     = "auth.reset_completed"
	ActionResetFailed        = "auth.reset_failed"
	ActionPasswordChanged    = "user.password_changed"
	ActionProfileUpdated     = "user.profile_updated"
	ActionMFAEnabled         = "user.mfa_enabled"
	ActionMFADisabled        = "user.mfa_disabled"
	ActionStatusChanged      = "admin.user_status_changed"
	ActionAdminBootstrapped  = "admin.bootstrapped"
	ActionRoleChanged        = "admin.user_role_changed"
	ActionCSRFRejected       = "security.csrf_rejected"
	ActionMFAChallengeFailed = "auth.mfa_failed"
)

const EntityUser = "user"

// ActivityEntry is an append-only audit record. UserID is nil for anonymous
// actors such as a failed login against an unknown email.
type ActivityEntry struct {
	ID         string
	UserID     *string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// LoginAttempts is the fixed-window failure counter for one email.
type LoginAttempts struct {
	Email       string
	Failures    int
	WindowStart time.Time
}
