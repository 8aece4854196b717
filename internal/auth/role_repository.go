package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

// RoleRepository persists roles, their permission grants and user membership.
type RoleRepository interface {
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, roleName string) error
	SetUserRoles(ctx context.Context, userID string, roleNames []string) error
	List(ctx context.Context) ([]Role, error)
	GetByID(ctx context.Context, id string) (*Role, error)
	Create(ctx context.Context, role *Role) error
	Update(ctx context.Context, role *Role) error
	SetPermissions(ctx context.Context, roleID string, codes []string) error
	Delete(ctx context.Context, roleID string) error
	UsersInRole(ctx context.Context, roleID string) ([]User, error)
	ListPermissions(ctx context.Context) ([]PermissionDef, error)
	GetPermission(ctx context.Context, id string) (*PermissionDef, error)
	CreatePermission(ctx context.Context, p *PermissionDef) error
	UpdatePermission(ctx context.Context, p *PermissionDef) error
	DeletePermission(ctx context.Context, id string) error
	RolesWithPermission(ctx context.Context, permissionID string) ([]Role, error)
}

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

// PermissionsForUser resolves user_roles -> role_permissions -> permissions.
// The result is deduplicated and sorted, and never nil.
func (r *SQLiteRoleRepository) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	return queryStrings(ctx, r.db, `
		SELECT DISTINCT p.code
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = ?
		ORDER BY p.code`, userID)
}

// RoleNamesForUser lists the names of the user's roles, sorted.
func (r *SQLiteRoleRepository) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	return queryStrings(ctx, r.db, `
		SELECT r.name FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ?
		ORDER BY r.name`, userID)
}

// AssignRole adds a membership by role name. Assigning twice is a no-op.
func (r *SQLiteRoleRepository) AssignRole(ctx context.Context, userID, roleName string) error {
	return assignRole(ctx, r.db, userID, roleName)
}

func assignRole(ctx context.Context, q dbtx, userID, roleName string) error {
	result, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_roles (user_id, role_id)
		SELECT ?, id FROM roles WHERE name = ?`, userID, roleName)
	if err != nil {
		return fmt.Errorf("assigning role %s: %w", roleName, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		var exists int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles WHERE name = ?", roleName).Scan(&exists); err != nil {
			return fmt.Errorf("checking role %s: %w", roleName, err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
		}
	}
	return nil
}

// SetUserRoles replaces a user's memberships. The owner role can be neither
// granted nor removed here; an existing owner membership is kept.
func (r *SQLiteRoleRepository) SetUserRoles(ctx context.Context, userID string, roleNames []string) error {
	for _, name := range roleNames {
		if IsProtectedRole(name) {
			return fmt.Errorf("%w: %s", ErrRoleProtected, name)
		}
	}

	return database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&exists); err != nil {
			return fmt.Errorf("checking user: %w", err)
		}
		if exists == 0 {
			return ErrUserNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM user_roles
			WHERE user_id = ? AND role_id NOT IN (SELECT id FROM roles WHERE name = ?)`,
			userID, RoleOwner); err != nil {
			return fmt.Errorf("clearing roles: %w", err)
		}

		for _, name := range roleNames {
			result, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO user_roles (user_id, role_id)
				SELECT ?, id FROM roles WHERE name = ?`, userID, name)
			if err != nil {
				return fmt.Errorf("assigning role %s: %w", name, err)
			}
			if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
				var n int
				if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles WHERE name = ?", name).Scan(&n); err != nil {
					return fmt.Errorf("checking role %s: %w", name, err)
				}
				if n == 0 {
					return fmt.Errorf("%w: %s", ErrRoleNotFound, name)
				}
			}
		}
		return nil
	})
}

// List returns every role with its permission codes, ordered by name.
func (r *SQLiteRoleRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.created_at, p.code
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		ORDER BY r.name, p.code`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var id, name, createdAt string
		var desc, code sql.NullString
		if err := rows.Scan(&id, &name, &desc, &createdAt, &code); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		if len(roles) == 0 || roles[len(roles)-1].ID != id {
			created, err := database.ParseTime(createdAt)
			if err != nil {
				return nil, err
			}
			roles = append(roles, Role{
				ID:          id,
				Name:        name,
				Description: desc.String,
				Permissions: []string{},
				Protected:   IsProtectedRole(name),
				CreatedAt:   created,
			})
		}
		if code.Valid {
			last := &roles[len(roles)-1]
			last.Permissions = append(last.Permissions, code.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// GetByID returns a role with its permission codes.
func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	var role Role
	var desc sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM roles WHERE id = ?", id,
	).Scan(&role.ID, &role.Name, &desc, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("getting role: %w", err)
	}
	role.Description = desc.String
	role.Protected = IsProtectedRole(role.Name)
	if role.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}

	role.Permissions, err = queryStrings(ctx, r.db, `
		SELECT p.code FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ?
		ORDER BY p.code`, id)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// Create inserts a custom role with no grants.
func (r *SQLiteRoleRepository) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.CreatedAt = time.Now().UTC()
	role.Permissions = []string{}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO roles (id, name, description, created_at) VALUES (?, ?, ?, ?)",
		role.ID, role.Name, nullString(role.Description), database.FormatTime(role.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleExists
		}
		return fmt.Errorf("creating role: %w", err)
	}
	return nil
}

// Update changes a role's name and description. The owner role is immutable
// and the other built-in roles keep their names, since accounts are granted
// them by name.
func (r *SQLiteRoleRepository) Update(ctx context.Context, role *Role) error {
	current, err := r.GetByID(ctx, role.ID)
	if err != nil {
		return err
	}
	if current.Protected || (IsBuiltinRole(current.Name) && role.Name != current.Name) {
		return fmt.Errorf("%w: %s", ErrRoleProtected, current.Name)
	}

	_, err = r.db.ExecContext(ctx, "UPDATE roles SET name = ?, description = ? WHERE id = ?",
		role.Name, nullString(role.Description), role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleExists
		}
		return fmt.Errorf("updating role: %w", err)
	}
	return nil
}

// SetPermissions replaces a role's grants. The owner role is immutable and
// unknown codes are rejected before anything changes.
func (r *SQLiteRoleRepository) SetPermissions(ctx context.Context, roleID string, codes []string) error {
	role, err := r.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Protected {
		return fmt.Errorf("%w: %s", ErrRoleProtected, role.Name)
	}

	codes = dedupe(codes)
	return database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		ids := make([]string, 0, len(codes))
		for _, code := range codes {
			var id string
			err := tx.QueryRowContext(ctx, "SELECT id FROM permissions WHERE code = ?", code).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrUnknownPermission, code)
			}
			if err != nil {
				return fmt.Errorf("resolving permission %s: %w", code, err)
			}
			ids = append(ids, id)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id = ?", roleID); err != nil {
			return fmt.Errorf("clearing grants: %w", err)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)", roleID, id); err != nil {
				return fmt.Errorf("granting permission: %w", err)
			}
		}
		return nil
	})
}

// Delete removes a custom role. Memberships and grants cascade.
func (r *SQLiteRoleRepository) Delete(ctx context.Context, roleID string) error {
	role, err := r.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if IsBuiltinRole(role.Name) {
		return fmt.Errorf("%w: %s", ErrRoleProtected, role.Name)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", roleID); err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	return nil
}

// UsersInRole lists the members of a role, oldest account first.
func (r *SQLiteRoleRepository) UsersInRole(ctx context.Context, roleID string) ([]User, error) {
	if _, err := r.GetByID(ctx, roleID); err != nil {
		return nil, err
	}

	cols := make([]string, 0, 16)
	for _, c := range strings.Split(userColumns, ",") {
		cols = append(cols, "u."+strings.TrimSpace(c))
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+strings.Join(cols, ", ")+` FROM users u
		 JOIN user_roles ur ON ur.user_id = u.id
		 WHERE ur.role_id = ?
		 ORDER BY u.created_at`, roleID)
	if err != nil {
		return nil, fmt.Errorf("listing role members: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role members: %w", err)
	}
	return users, nil
}

// ListPermissions returns the permission catalogue ordered by code, with the
// number of roles holding each.
func (r *SQLiteRoleRepository) ListPermissions(ctx context.Context) ([]PermissionDef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.code, p.description, COUNT(rp.role_id)
		FROM permissions p
		LEFT JOIN role_permissions rp ON rp.permission_id = p.id
		GROUP BY p.id
		ORDER BY p.code`)
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	perms := []PermissionDef{}
	for rows.Next() {
		var p PermissionDef
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Code, &desc, &p.RoleCount); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		p.Description = desc.String
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating permissions: %w", err)
	}
	return perms, nil
}

// GetPermission returns one catalogue entry.
func (r *SQLiteRoleRepository) GetPermission(ctx context.Context, id string) (*PermissionDef, error) {
	var p PermissionDef
	var desc sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT id, code, description FROM permissions WHERE id = ?", id).Scan(&p.ID, &p.Code, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting permission: %w", err)
	}
	p.Description = desc.String
	return &p, nil
}

// CreatePermission adds a code to the catalogue. The ID is generated if empty.
func (r *SQLiteRoleRepository) CreatePermission(ctx context.Context, p *PermissionDef) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO permissions (id, code, description) VALUES (?, ?, ?)",
		p.ID, p.Code, nullString(p.Description))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPermissionExists
		}
		return fmt.Errorf("creating permission: %w", err)
	}
	return nil
}

// UpdatePermission changes a code or its description. Built-in codes may
// only have their description changed.
func (r *SQLiteRoleRepository) UpdatePermission(ctx context.Context, p *PermissionDef) error {
	current, err := r.GetPermission(ctx, p.ID)
	if err != nil {
		return err
	}
	if IsBuiltinPermission(current.Code) && p.Code != current.Code {
		return fmt.Errorf("%w: %s", ErrPermissionProtected, current.Code)
	}

	_, err = r.db.ExecContext(ctx, "UPDATE permissions SET code = ?, description = ? WHERE id = ?",
		p.Code, nullString(p.Description), p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPermissionExists
		}
		return fmt.Errorf("updating permission: %w", err)
	}
	return nil
}

// DeletePermission removes a custom code. Its grants cascade.
func (r *SQLiteRoleRepository) DeletePermission(ctx context.Context, id string) error {
	current, err := r.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if IsBuiltinPermission(current.Code) {
		return fmt.Errorf("%w: %s", ErrPermissionProtected, current.Code)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM permissions WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting permission: %w", err)
	}
	return nil
}

// RolesWithPermission lists the roles granted a permission, ordered by name.
func (r *SQLiteRoleRepository) RolesWithPermission(ctx context.Context, permissionID string) ([]Role, error) {
	p, err := r.GetPermission(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	roles := []Role{}
	for _, role := range all {
		if slices.Contains(role.Permissions, p.Code) {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
