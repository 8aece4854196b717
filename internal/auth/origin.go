package auth

import "strings"

// ClientOriginHeader carries the caller's self-declared client type.
const ClientOriginHeader = "X-Client-Type"

// ClientOrigin identifies which client made a request. The value is only a
// claim: the companion gate pairs it with the server-side
// client_login_enabled flag before granting anything.
type ClientOrigin int

const (
	// OriginUnknown is the zero value, used when the header is missing or unrecognised.
	OriginUnknown ClientOrigin = iota
	// OriginBrowser is the web dashboard.
	OriginBrowser
	// OriginCompanion is the desktop companion app.
	OriginCompanion
)

// Stored and wire values of each origin.
const (
	sourceBrowser   = "web-dashboard"
	sourceCompanion = "macos-app"
	sourceUnknown   = "unknown"
)

// ParseClientOrigin maps an X-Client-Type header value to an origin.
func ParseClientOrigin(header string) ClientOrigin {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case sourceCompanion, "companion", "macos":
		return OriginCompanion
	case sourceBrowser, "browser", "web":
		return OriginBrowser
	default:
		return OriginUnknown
	}
}

// String returns the value stored in client_source and registration_source columns.
func (o ClientOrigin) String() string {
	switch o {
	case OriginBrowser:
		return sourceBrowser
	case OriginCompanion:
		return sourceCompanion
	default:
		return sourceUnknown
	}
}
