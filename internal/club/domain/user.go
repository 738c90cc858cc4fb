package domain

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool { return r == RoleMember || r == RoleAdmin }

// Status is the account lifecycle state. New accounts start pending, become
// active once the email address is verified, and can be toggled between
// active and inactive by an admin.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusActive || s == StatusInactive
}

type User struct {
	ID           string
	Email        string // stored lowercased
	PasswordHash string // argon2id PHC string, or a legacy bcrypt hash until next login
	Role         Role
	Status       Status

	// Single-use tokens are stored as SHA-256 fingerprints only.
	VerificationTokenHash *string
	ResetTokenHash        *string
	ResetTokenExpiresAt   *time.Time

	Profile Profile

	MFASecret    *string    // TOTP secret (base32), set on enrolment
	MFAEnabledAt *time.Time // set once the first code is verified

	EmailVerifiedAt *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Profile holds the member-editable attributes shown on the account page and team listing.
type Profile struct {
	Name      string
	Phone     string
	Bio       string
	AvatarKey string // object storage key, empty when no picture was uploaded
}

func (u User) IsAdmin() bool    { return u.Role == RoleAdmin }
func (u User) MFAEnabled() bool { return u.MFAEnabledAt != nil && u.MFASecret != nil }

// DisplayName falls back to the email address when no name was set.
func (u User) DisplayName() string {
	if u.Profile.Name != "" {
		return u.Profile.Name
	}
	return u.Email
}
