package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, filter UserFilter) ([]User, int, error)
	LinkPassword(ctx context.Context, id string, link PasswordLink) error
	Enroll(ctx context.Context, e Enrollment) error
	UsernameTaken(ctx context.Context, username, exceptID string) (bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetClientLoginEnabled(ctx context.Context, id string, enabled bool) error
	Count(ctx context.Context) (int, error)
}

// UserFilter narrows the admin user listing. Page is 1-based.
type UserFilter struct {
	Search  string
	Source  string
	Page    int
	PerPage int
}

// PasswordLink sets a password on an account that was created without one.
// Empty Username and FullName leave the stored values alone.
type PasswordLink struct {
	PasswordHash string
	Username     string
	FullName     string
	VerifiedAt   time.Time
}

// Enrollment is every write that completes a registration. User is inserted
// when LinkID is empty, otherwise Link is applied to the account LinkID.
type Enrollment struct {
	User    *User
	LinkID  string
	Link    PasswordLink
	Roles   []string
	LoginAt time.Time
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = `id, email, username, full_name, password_hash, external_id, account_type,
	registration_source, client_login_enabled, total_online_time, email_verified_at,
	last_login_at, created_at, updated_at`

// Create inserts a new user account. The ID is generated if empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	return insertUser(ctx, r.db, user)
}

func insertUser(ctx context.Context, q dbtx, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.AccountType == "" {
		user.AccountType = AccountClient
	}
	if user.RegistrationSource == "" {
		user.RegistrationSource = OriginUnknown.String()
	}
	user.Email = NormalizeEmail(user.Email)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	var verifiedAt sql.NullString
	if user.EmailVerifiedAt != nil {
		verifiedAt = nullString(database.FormatTime(*user.EmailVerifiedAt))
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		user.ID, user.Email, nullString(user.Username), nullString(user.FullName),
		nullString(user.PasswordHash), nullString(user.ExternalID), string(user.AccountType),
		user.RegistrationSource, boolToInt(user.ClientLoginEnabled), user.TotalOnlineTime,
		verifiedAt, database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return mapUniqueViolation(err, "creating user")
	}
	return nil
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetByEmail retrieves a user by normalised email.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email)))
}

// List returns one page of users, newest first, with the total matching count.
func (r *SQLiteUserRepository) List(ctx context.Context, f UserFilter) ([]User, int, error) {
	var where []string
	var args []any
	if f.Source != "" {
		where = append(where, "registration_source = ?")
		args = append(args, f.Source)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, "(email LIKE ? OR username LIKE ? OR full_name LIKE ?)")
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating users: %w", err)
	}
	return users, total, nil
}

// LinkPassword attaches a password to an account that has none. If another
// request linked one first the call fails with ErrEmailExists.
func (r *SQLiteUserRepository) LinkPassword(ctx context.Context, id string, link PasswordLink) error {
	return linkPassword(ctx, r.db, id, link)
}

func linkPassword(ctx context.Context, q dbtx, id string, link PasswordLink) error {
	now := database.FormatTime(time.Now())
	result, err := q.ExecContext(ctx,
		`UPDATE users SET
			password_hash = ?,
			username = COALESCE(?, username),
			full_name = COALESCE(?, full_name),
			email_verified_at = COALESCE(email_verified_at, ?),
			updated_at = ?
		 WHERE id = ? AND password_hash IS NULL`,
		link.PasswordHash, nullString(link.Username), nullString(link.FullName),
		database.FormatTime(link.VerifiedAt), now, id,
	)
	if err != nil {
		return mapUniqueViolation(err, "linking password")
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrEmailExists
	}
	return nil
}

// Enroll creates or links the account, grants e.Roles and stamps the first
// login in one transaction. Nothing is written if any step fails.
func (r *SQLiteUserRepository) Enroll(ctx context.Context, e Enrollment) error {
	return database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		userID := e.LinkID
		if userID != "" {
			if err := linkPassword(ctx, tx, userID, e.Link); err != nil {
				return err
			}
		} else {
			if err := insertUser(ctx, tx, e.User); err != nil {
				return err
			}
			userID = e.User.ID
		}

		for _, role := range e.Roles {
			if err := assignRole(ctx, tx, userID, role); err != nil {
				return err
			}
		}

		ts := database.FormatTime(e.LoginAt)
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`, ts, ts, userID); err != nil {
			return fmt.Errorf("updating last login: %w", err)
		}
		return nil
	})
}

// UsernameTaken reports whether an account other than exceptID holds username.
func (r *SQLiteUserRepository) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ? AND id != ?`, username, exceptID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return n > 0, nil
}

// UpdatePassword changes a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "updating password",
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, database.FormatTime(time.Now()), id)
}

// UpdateLastLogin records a successful login.
func (r *SQLiteUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	ts := database.FormatTime(at)
	return r.execOne(ctx, "updating last login",
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`, ts, ts, id)
}

// SetClientLoginEnabled opens or closes the companion app gate for a user.
func (r *SQLiteUserRepository) SetClientLoginEnabled(ctx context.Context, id string, enabled bool) error {
	return r.execOne(ctx, "updating client access",
		`UPDATE users SET client_login_enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), database.FormatTime(time.Now()), id)
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a user from any scanner (Row or Rows).
func scanUser(s scanner) (*User, error) {
	var u User
	var username, fullName, passwordHash, externalID sql.NullString
	var verifiedAt, lastLoginAt sql.NullString
	var accountType string
	var clientLogin int
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Email, &username, &fullName, &passwordHash, &externalID,
		&accountType, &u.RegistrationSource, &clientLogin, &u.TotalOnlineTime,
		&verifiedAt, &lastLoginAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Username = username.String
	u.FullName = fullName.String
	u.PasswordHash = passwordHash.String
	u.ExternalID = externalID.String
	u.AccountType = AccountType(accountType)
	u.ClientLoginEnabled = clientLogin != 0

	if u.EmailVerifiedAt, err = database.NullTime(verifiedAt); err != nil {
		return nil, err
	}
	if u.LastLoginAt, err = database.NullTime(lastLoginAt); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Helper functions.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mapUniqueViolation(err error, op string) error {
	if isUniqueViolation(err) {
		switch msg := err.Error(); {
		case strings.Contains(msg, "users.username"):
			return ErrUsernameExists
		case strings.Contains(msg, "users.email"):
			return ErrEmailExists
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
