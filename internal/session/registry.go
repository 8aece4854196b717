package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

const (
	defaultDeviceID   = "unknown"
	defaultSource     = "unknown"
	defaultAuthMethod = "password"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry manages user_sessions.
//
// Thread Safety: safe for concurrent use. Close relies on a conditional
// update inside a transaction rather than in-process locks.
type Registry struct {
	db     *sql.DB
	sink   EventSink
	logger Logger
	now    func() time.Time
}

// NewRegistry creates a session registry.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		db:     db,
		sink:   noopSink{},
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetSink sets the destination for session events.
func (r *Registry) SetSink(sink EventSink) {
	if sink == nil {
		sink = noopSink{}
	}
	r.sink = sink
}

const sessionColumns = `id, user_id, device_id, device_name, device_type, ip_address, user_agent,
	client_source, auth_method, login_at, last_active_at, logout_at, duration`

// Open starts a session with login_at and last_active_at set to now.
func (r *Registry) Open(ctx context.Context, userID string, info DeviceInfo) (*Session, error) {
	now := r.now().UTC()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		DeviceID:     orDefault(info.DeviceID, defaultDeviceID),
		DeviceName:   info.DeviceName,
		DeviceType:   info.DeviceType,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		ClientSource: orDefault(info.ClientSource, defaultSource),
		AuthMethod:   orDefault(info.AuthMethod, defaultAuthMethod),
		LoginAt:      now,
		LastActiveAt: now,
		Online:       true,
	}

	ts := database.FormatTime(now)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		s.ID, s.UserID, s.DeviceID, nullString(s.DeviceName), nullString(s.DeviceType),
		nullString(s.IPAddress), nullString(s.UserAgent), s.ClientSource, s.AuthMethod, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	r.emit(EventOpened, *s, now)
	return s, nil
}

// Heartbeat marks the caller's session as active now.
func (r *Registry) Heartbeat(ctx context.Context, sessionID, callerID string) error {
	now := r.now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET last_active_at = ?
		 WHERE id = ? AND user_id = ? AND logout_at IS NULL`,
		database.FormatTime(now), sessionID, callerID)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 1 { //nolint:errcheck // always succeeds on SQLite
		r.emit(EventHeartbeat, Session{ID: sessionID, UserID: callerID, LastActiveAt: now, Online: true}, now)
		return nil
	}

	// Nothing updated: tell a missing session from a closed one.
	var logoutAt sql.NullString
	err = r.db.QueryRowContext(ctx,
		"SELECT logout_at FROM user_sessions WHERE id = ? AND user_id = ?",
		sessionID, callerID).Scan(&logoutAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrSessionNotFound
	case err != nil:
		return fmt.Errorf("checking session: %w", err)
	default:
		return ErrSessionEnded
	}
}

// Close ends the caller's session, records its duration in whole seconds
// and adds the duration to the user's total online time.
func (r *Registry) Close(ctx context.Context, sessionID, callerID string) (*Session, error) {
	now := r.now().UTC()
	var closed *Session

	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM user_sessions WHERE id = ? AND user_id = ?`,
			sessionID, callerID))
		if err != nil {
			return err
		}
		if s.LogoutAt != nil {
			return ErrSessionEnded
		}

		duration := int64(now.Sub(s.LoginAt) / time.Second)
		if duration < 0 {
			duration = 0
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE user_sessions SET logout_at = ?, duration = ?
			 WHERE id = ? AND logout_at IS NULL`,
			database.FormatTime(now), duration, sessionID)
		if err != nil {
			return fmt.Errorf("closing session: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("closing session: %w", err)
		}
		if n == 0 {
			return ErrSessionEnded
		}

		if duration > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE users SET total_online_time = total_online_time + ? WHERE id = ?",
				duration, s.UserID); err != nil {
				return fmt.Errorf("updating online time: %w", err)
			}
		}

		s.LogoutAt = &now
		s.Duration = &duration
		s.Online = false
		closed = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.emit(EventClosed, *closed, now)
	return closed, nil
}

// List returns a user's sessions, most recent login first.
func (r *Registry) List(ctx context.Context, userID string) ([]Session, error) {
	return r.ListRecent(ctx, userID, 0)
}

// ListRecent is List capped at limit rows. A limit of zero or less means all.
func (r *Registry) ListRecent(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions
		 WHERE user_id = ?
		 ORDER BY login_at DESC, rowid DESC
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	now := r.now()
	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		s.Online = s.IsOnline(now)
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Stats returns the user's accumulated online time and session counts.
func (r *Registry) Stats(ctx context.Context, userID string) (*Stats, error) {
	var st Stats
	if err := r.db.QueryRowContext(ctx,
		"SELECT total_online_time FROM users WHERE id = ?", userID,
	).Scan(&st.TotalOnlineTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &st, nil
		}
		return nil, fmt.Errorf("reading online time: %w", err)
	}

	cutoff := database.FormatTime(r.now().Add(-OnlineWindow))
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN logout_at IS NULL AND last_active_at > ? THEN 1 ELSE 0 END), 0)
		FROM user_sessions WHERE user_id = ?`, cutoff, userID,
	).Scan(&st.SessionCount, &st.OnlineCount); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	return &st, nil
}

// AddOnlineTime credits time a client measured itself, such as foreground
// time in the companion app, and returns the updated stats.
func (r *Registry) AddOnlineTime(ctx context.Context, userID string, seconds int64) (*Stats, error) {
	if seconds < 0 {
		return nil, ErrInvalidOnlineTime
	}
	if seconds > 0 {
		if _, err := r.db.ExecContext(ctx,
			"UPDATE users SET total_online_time = total_online_time + ?, updated_at = ? WHERE id = ?",
			seconds, database.FormatTime(r.now()), userID); err != nil {
			return nil, fmt.Errorf("updating online time: %w", err)
		}
	}
	return r.Stats(ctx, userID)
}

// OnlineBySource counts online sessions across all users per client source.
func (r *Registry) OnlineBySource(ctx context.Context) (map[string]int, error) {
	cutoff := database.FormatTime(r.now().Add(-OnlineWindow))
	rows, err := r.db.QueryContext(ctx, `
		SELECT client_source, COUNT(*) FROM user_sessions
		WHERE logout_at IS NULL AND last_active_at > ?
		GROUP BY client_source`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("counting online sessions: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("scanning online count: %w", err)
		}
		out[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating online counts: %w", err)
	}
	return out, nil
}

func (r *Registry) emit(t EventType, s Session, at time.Time) {
	r.sink.Publish(Event{Type: t, Session: s, At: at})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(sc rowScanner) (*Session, error) {
	var s Session
	var name, dtype, ip, ua, logoutAt sql.NullString
	var duration sql.NullInt64
	var loginAt, lastActive string

	err := sc.Scan(&s.ID, &s.UserID, &s.DeviceID, &name, &dtype, &ip, &ua,
		&s.ClientSource, &s.AuthMethod, &loginAt, &lastActive, &logoutAt, &duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	s.DeviceName, s.DeviceType, s.IPAddress, s.UserAgent = name.String, dtype.String, ip.String, ua.String
	if duration.Valid {
		d := duration.Int64
		s.Duration = &d
	}
	if s.LoginAt, err = database.ParseTime(loginAt); err != nil {
		return nil, err
	}
	if s.LastActiveAt, err = database.ParseTime(lastActive); err != nil {
		return nil, err
	}
	if s.LogoutAt, err = database.NullTime(logoutAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
