package auth

import (
	"context"
	"fmt"
	"regexp"
	"slices"
)

// Permission codes seeded by migration.
const (
	PermAdminUsersRead  = "admin:users:read"
	PermAdminUsersWrite = "admin:users:write"
	PermAdminRolesWrite = "admin:roles:write"
	PermSyncUpload      = "sync:upload"
	PermSyncDownload    = "sync:download"
	PermStatsRead       = "stats:read"
	PermStatsWrite      = "stats:write"
)

var builtinPermissions = []string{
	PermAdminUsersRead, PermAdminUsersWrite, PermAdminRolesWrite,
	PermSyncUpload, PermSyncDownload, PermStatsRead, PermStatsWrite,
}

// IsBuiltinPermission reports whether routes check code. Such codes can be
// described but never renamed or deleted.
func IsBuiltinPermission(code string) bool {
	return slices.Contains(builtinPermissions, code)
}

var permissionCodePattern = regexp.MustCompile(`^[a-z0-9]+([:._-][a-z0-9]+)*$`)

// IsValidPermissionCode accepts lowercase segments joined by ':', '.', '_'
// or '-', up to 100 characters.
func IsValidPermissionCode(code string) bool {
	return len(code) <= 100 && permissionCodePattern.MatchString(code)
}

// Strategy selects where a route's permission check gets its data.
type Strategy int

const (
	// StrategySnapshot trusts the permission list embedded in the access
	// token. It can be stale by up to the token lifetime.
	StrategySnapshot Strategy = iota
	// StrategyLive reads grants from the store on every check.
	StrategyLive
)

func (s Strategy) String() string {
	switch s {
	case StrategySnapshot:
		return "snapshot"
	case StrategyLive:
		return "live"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Principal is the verified caller of a request.
type Principal struct {
	UserID      string
	Email       string
	Permissions []string // snapshot from the access token
	Origin      ClientOrigin
}

// PermissionLookup is the read side of the role store.
type PermissionLookup interface {
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
}

// UserLookup fetches the account behind a principal.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// Resolver answers permission questions for a principal.
type Resolver struct {
	perms PermissionLookup
	users UserLookup
}

// NewResolver creates a resolver over the role and user stores.
func NewResolver(perms PermissionLookup, users UserLookup) *Resolver {
	return &Resolver{perms: perms, users: users}
}

// Permissions returns the principal's permission set under strategy s.
func (r *Resolver) Permissions(ctx context.Context, p Principal, s Strategy) ([]string, error) {
	if s == StrategySnapshot {
		return p.Permissions, nil
	}
	perms, err := r.perms.PermissionsForUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving permissions: %w", err)
	}
	return perms, nil
}

// HasPermission reports whether the principal holds code under strategy s.
func (r *Resolver) HasPermission(ctx context.Context, p Principal, code string, s Strategy) (bool, error) {
	perms, err := r.Permissions(ctx, p, s)
	if err != nil {
		return false, err
	}
	return slices.Contains(perms, code), nil
}

// CompanionAllowed is the client gate: the request must claim the companion
// origin and the account's client_login_enabled flag must currently be set.
func (r *Resolver) CompanionAllowed(ctx context.Context, origin ClientOrigin, userID string) (bool, error) {
	if origin != OriginCompanion {
		return false, nil
	}
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("checking client access: %w", err)
	}
	return u.ClientLoginEnabled, nil
}
