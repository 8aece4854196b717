package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are carried by access tokens. Permissions is the snapshot
// taken at issue time.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

// RefreshClaims are carried by refresh tokens. ID (jti) is the
// refresh_tokens row the token was issued against.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// HasPermission reports whether the snapshot contains code.
func (c *AccessClaims) HasPermission(code string) bool {
	for _, p := range c.Permissions {
		if p == code {
			return true
		}
	}
	return false
}
