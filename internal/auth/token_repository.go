package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

// TokenRepository defines the interface for refresh token persistence.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByID(ctx context.Context, id string) (*RefreshToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	SetTokenHash(ctx context.Context, id, tokenHash string) error
	RevokeIfActive(ctx context.Context, id, userID string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// HashToken computes the SHA-256 hash of a signed token for storage.
// Signed tokens are never stored, only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

const tokenColumns = `id, user_id, token_hash, device_id, expires_at, revoked_at, created_at`

// Create inserts a new refresh token row. The ID is generated if empty.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	var revokedAt sql.NullString
	if token.RevokedAt != nil {
		revokedAt = nullString(database.FormatTime(*token.RevokedAt))
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.TokenHash, nullString(token.DeviceID),
		database.FormatTime(token.ExpiresAt), revokedAt,
		database.FormatTime(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}
	return nil
}

// GetByID retrieves a refresh token by its ID (the JWT jti).
func (r *SQLiteTokenRepository) GetByID(ctx context.Context, id string) (*RefreshToken, error) {
	return scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE id = ?`, id))
}

// GetByTokenHash retrieves a refresh token by its SHA-256 hash.
func (r *SQLiteTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	return scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, tokenHash))
}

// SetTokenHash replaces the placeholder digest written by Create once the
// token has been signed.
func (r *SQLiteTokenRepository) SetTokenHash(ctx context.Context, id, tokenHash string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET token_hash = ? WHERE id = ?", tokenHash, id)
	if err != nil {
		return fmt.Errorf("storing token hash: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTokenInvalid
	}
	return nil
}

// RevokeIfActive is the compare-and-swap at the heart of rotation: it sets
// revoked_at only while the row is still unrevoked and belongs to userID.
// It reports whether this call won.
func (r *SQLiteTokenRepository) RevokeIfActive(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?
		 WHERE id = ? AND user_id = ? AND revoked_at IS NULL`,
		database.FormatTime(at), id, userID)
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}
	return rows == 1, nil
}

// RevokeAllForUser revokes every live refresh token of a user.
// Used when changing password.
func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL",
		database.FormatTime(at), userID)
	if err != nil {
		return 0, fmt.Errorf("revoking all tokens for user: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// DeleteExpired removes tokens that have expired, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", database.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

func scanToken(s scanner) (*RefreshToken, error) {
	var t RefreshToken
	var deviceID, revokedAt sql.NullString
	var expiresAt, createdAt string

	err := s.Scan(&t.ID, &t.UserID, &t.TokenHash, &deviceID, &expiresAt, &revokedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("scanning refresh token: %w", err)
	}

	t.DeviceID = deviceID.String
	if t.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.RevokedAt, err = database.NullTime(revokedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
