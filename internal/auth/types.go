package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, hyphens and underscores, 3-100 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,100}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// NormalizeEmail is the canonical form used for lookups and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Built-in role names, seeded by migration.
const (
	// RoleOwner holds every permission. It cannot be edited, deleted or
	// assigned through the admin API.
	RoleOwner = "owner"

	// RoleAdmin manages users and roles.
	RoleAdmin = "admin"

	// RoleUser is assigned to every new account.
	RoleUser = "user"
)

// IsProtectedRole reports whether a role's grants and memberships are immutable.
func IsProtectedRole(name string) bool {
	return name == RoleOwner
}

// IsBuiltinRole reports whether a role ships with the schema and cannot be deleted.
func IsBuiltinRole(name string) bool {
	switch name {
	case RoleOwner, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// AccountType records which surfaces an account was provisioned for.
type AccountType string

const (
	AccountClient AccountType = "client"
	AccountAdmin  AccountType = "admin"
	AccountBoth   AccountType = "both"
)

// User represents an account.
type User struct {
	ID                 string      `json:"id"`
	Email              string      `json:"email"`
	Username           string      `json:"username,omitempty"`
	FullName           string      `json:"full_name,omitempty"`
	PasswordHash       string      `json:"-"` // never serialised
	ExternalID         string      `json:"external_id,omitempty"`
	AccountType        AccountType `json:"account_type"`
	RegistrationSource string      `json:"registration_source"`
	ClientLoginEnabled bool        `json:"client_login_enabled"`
	// TotalOnlineTime is the sum of closed session durations, in seconds.
	TotalOnlineTime int64      `json:"total_online_time"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasPassword reports whether the account can log in with a password.
// Accounts created by an external provider have none until they register.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Role is a named set of permission codes.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	Protected   bool      `json:"protected"`
	CreatedAt   time.Time `json:"created_at"`
}

// PermissionDef is a row of the permissions catalogue. RoleCount is only
// filled in by listings.
type PermissionDef struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	RoleCount   int    `json:"role_count"`
}

// RefreshToken is the server-side record behind a refresh JWT. The JWT's jti
// is the record ID.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"` // never serialised
	DeviceID  string     `json:"device_id,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Revoked reports whether the token has been consumed or revoked.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailExists         = errors.New("email already registered")
	ErrUsernameExists      = errors.New("username already exists")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("token invalid")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrDecryption          = errors.New("unable to decrypt credential")
	ErrWeakPassword        = errors.New("password does not meet policy")
	ErrRoleNotFound        = errors.New("role not found")
	ErrRoleExists          = errors.New("role already exists")
	ErrRoleProtected       = errors.New("role is protected")
	ErrUnknownPermission   = errors.New("unknown permission code")
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrPermissionExists    = errors.New("permission already exists")
	ErrPermissionProtected = errors.New("permission is checked by the service")
	ErrForbidden           = errors.New("forbidden")
	ErrClientLoginDisabled = errors.New("client login disabled")
)
