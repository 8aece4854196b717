// Package clientsettings stores per-user companion app settings as a JSON
// document with an optimistic version counter.
package clientsettings

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonmerge "github.com/apapsch/go-jsonmerge/v2"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

var (
	// ErrVersionConflict means the caller's version is not the stored one.
	ErrVersionConflict = errors.New("settings version conflict")

	// ErrInvalidPatch means the patch is not a JSON object or changes the
	// shape of an existing object.
	ErrInvalidPatch = errors.New("invalid settings patch")
)

// Settings is a user's stored document.
type Settings struct {
	UserID    string          `json:"-"`
	Data      json.RawMessage `json:"settings"`
	Version   int64           `json:"version"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
}

// Store reads and patches settings in client_settings.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a settings store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

var emptyObject = json.RawMessage(`{}`)

// Get returns the user's settings. A user without a row gets an empty
// object at version 0.
func (s *Store) Get(ctx context.Context, userID string) (*Settings, error) {
	return get(ctx, s.db, userID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q querier, userID string) (*Settings, error) {
	var data, updatedAt string
	var syncedAt sql.NullString
	st := &Settings{UserID: userID}

	err := q.QueryRowContext(ctx,
		"SELECT settings, version, updated_at, synced_at FROM client_settings WHERE user_id = ?",
		userID).Scan(&data, &st.Version, &updatedAt, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		st.Data = emptyObject
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading client settings: %w", err)
	}

	st.Data = json.RawMessage(data)
	t, err := database.ParseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	st.UpdatedAt = &t
	if st.SyncedAt, err = database.NullTime(syncedAt); err != nil {
		return nil, err
	}
	return st, nil
}

// Patch deep-merges patch into the stored document if version matches the
// stored version, and returns the new document with version+1.
func (s *Store) Patch(ctx context.Context, userID string, version int64, patch json.RawMessage) (*Settings, error) {
	if !isObject(patch) {
		return nil, fmt.Errorf("%w: must be a JSON object", ErrInvalidPatch)
	}

	var out *Settings
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := get(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current.Version != version {
			return fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, current.Version, version)
		}

		merger := jsonmerge.Merger{CopyNonexistent: true}
		merged, err := merger.MergeBytes(current.Data, patch)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPatch, err)
		}
		if len(merger.Errors) > 0 {
			return fmt.Errorf("%w: %w", ErrInvalidPatch, merger.Errors[0])
		}

		now := s.now().UTC()
		ts := database.FormatTime(now)
		next := version + 1
		result, err := tx.ExecContext(ctx, `
			INSERT INTO client_settings (user_id, settings, version, updated_at, synced_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE
			SET settings = excluded.settings, version = excluded.version,
			    updated_at = excluded.updated_at, synced_at = excluded.synced_at
			WHERE client_settings.version = ?`,
			userID, string(merged), next, ts, ts, version)
		if err != nil {
			return fmt.Errorf("writing client settings: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
			return ErrVersionConflict
		}

		out = &Settings{UserID: userID, Data: merged, Version: next, UpdatedAt: &now, SyncedAt: &now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
