// Package api implements the HTTP surface of the identity service.
//
// This package provides:
//   - account endpoints: verification codes, register, login, refresh, logout
//   - session endpoints: list, heartbeat, close, per-user stats
//   - companion client settings behind the client gate
//   - admin endpoints for users, roles, permissions, access logs, stats
//     and the audit trail of admin changes
//   - a WebSocket stream of session events for the admin dashboard
//
// # Security
//
// Callers authenticate with an access token sent as a bearer header or as
// the access_token cookie. Ordinary routes trust the permission snapshot in
// the token. Admin routes re-read grants from the database on every request,
// so a revoked role takes effect on the next call. WebSocket connections use
// single-use tickets so tokens never appear in URLs.
//
// # Graceful Degradation
//
// Redis, MQTT and InfluxDB are optional. Without Redis the public auth
// routes are not rate limited; a Redis outage fails open.
package api
