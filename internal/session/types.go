package session

import (
	"errors"
	"time"
)

// OnlineWindow is how recently a session must have been active to count as online.
const OnlineWindow = 5 * time.Minute

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound covers both a missing session and one owned by
	// someone else, so callers cannot discover other users' session IDs.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session already ended")
	// ErrInvalidOnlineTime rejects a negative client-reported duration.
	ErrInvalidOnlineTime = errors.New("online time must not be negative")
)

// DeviceInfo describes where a session was opened from.
type DeviceInfo struct {
	DeviceID     string
	DeviceName   string
	DeviceType   string
	IPAddress    string
	UserAgent    string
	ClientSource string
	AuthMethod   string
}

// Session is a row of user_sessions with Online computed at read time.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	DeviceID     string     `json:"device_id"`
	DeviceName   string     `json:"device_name,omitempty"`
	DeviceType   string     `json:"device_type,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	ClientSource string     `json:"client_source"`
	AuthMethod   string     `json:"auth_method"`
	LoginAt      time.Time  `json:"login_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	LogoutAt     *time.Time `json:"logout_at,omitempty"`
	// Duration is whole seconds between login and logout, set on close.
	Duration *int64 `json:"duration,omitempty"`
	Online   bool   `json:"online"`
}

// IsOnline applies the liveness rule at now.
func (s *Session) IsOnline(now time.Time) bool {
	return s.LogoutAt == nil && now.Sub(s.LastActiveAt) < OnlineWindow
}

// Stats summarises a user's sessions.
type Stats struct {
	TotalOnlineTime int64 `json:"total_online_time"`
	SessionCount    int   `json:"session_count"`
	OnlineCount     int   `json:"online_count"`
}

// EventType names a session lifecycle event.
type EventType string

const (
	EventOpened    EventType = "opened"
	EventHeartbeat EventType = "heartbeat"
	EventClosed    EventType = "closed"
)

// Event is emitted to sinks after a change is committed.
type Event struct {
	Type    EventType `json:"type"`
	Session Session   `json:"session"`
	At      time.Time `json:"at"`
}
