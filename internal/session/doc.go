// Package session tracks login sessions across devices.
//
// A session is opened at login, kept alive by heartbeats and closed at
// logout. Whether a session is online is never stored: it is derived on
// read from logout_at and last_active_at. Closing is a conditional update,
// so logout_at and duration are written exactly once and the duration is
// added to the user's total online time exactly once.
package session
