package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

// Code is a stored verification code.
type Code struct {
	ID        string
	Email     string
	Code      string
	Purpose   string
	ExpiresAt time.Time
	UsedAt    *time.Time
	Attempts  int
	CreatedAt time.Time
}

// Repository persists verification codes.
type Repository interface {
	Create(ctx context.Context, c *Code) error
	// Latest returns the newest code for email, used or not.
	Latest(ctx context.Context, email string) (*Code, error)
	// LatestUnused returns the newest code for email with used_at unset.
	LatestUnused(ctx context.Context, email string) (*Code, error)
	// ReserveAttempt counts one guess against the code unless limit guesses
	// were already made, and reports whether the guess may proceed.
	ReserveAttempt(ctx context.Context, id string, limit int) (bool, error)
	// MarkUsed sets used_at only if it is unset and reports whether it did.
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteStale(ctx context.Context, expiredBefore time.Time) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed code repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const codeColumns = `id, email, code, purpose, expires_at, used_at, attempts, created_at`

// Create inserts a code. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, c *Code) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_verification_codes (`+codeColumns+`) VALUES (?, ?, ?, ?, ?, NULL, 0, ?)`,
		c.ID, c.Email, c.Code, c.Purpose,
		database.FormatTime(c.ExpiresAt), database.FormatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("storing verification code: %w", err)
	}
	return nil
}

// Latest returns the newest code for email.
func (r *SQLiteRepository) Latest(ctx context.Context, email string) (*Code, error) {
	return scanCode(r.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM email_verification_codes
		 WHERE email = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, email))
}

// LatestUnused returns the newest unconsumed code for email.
func (r *SQLiteRepository) LatestUnused(ctx context.Context, email string) (*Code, error) {
	return scanCode(r.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM email_verification_codes
		 WHERE email = ? AND used_at IS NULL ORDER BY created_at DESC, rowid DESC LIMIT 1`, email))
}

// ReserveAttempt checks and bumps the counter in one statement so concurrent
// guesses cannot overshoot the limit.
func (r *SQLiteRepository) ReserveAttempt(ctx context.Context, id string, limit int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE email_verification_codes SET attempts = attempts + 1 WHERE id = ? AND attempts < ?",
		id, limit)
	if err != nil {
		return false, fmt.Errorf("recording attempt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording attempt: %w", err)
	}
	return n == 1, nil
}

// MarkUsed consumes a code.
func (r *SQLiteRepository) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE email_verification_codes SET used_at = ? WHERE id = ? AND used_at IS NULL",
		database.FormatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("consuming code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consuming code: %w", err)
	}
	return n == 1, nil
}

// DeleteStale removes codes that expired before the cutoff.
func (r *SQLiteRepository) DeleteStale(ctx context.Context, expiredBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM email_verification_codes WHERE expires_at < ?", database.FormatTime(expiredBefore))
	if err != nil {
		return 0, fmt.Errorf("deleting stale codes: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCode(s rowScanner) (*Code, error) {
	var c Code
	var usedAt sql.NullString
	var expiresAt, createdAt string
	err := s.Scan(&c.ID, &c.Email, &c.Code, &c.Purpose, &expiresAt, &usedAt, &c.Attempts, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("scanning verification code: %w", err)
	}
	if c.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UsedAt, err = database.NullTime(usedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
