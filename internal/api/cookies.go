package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// Cookie names shared with the web dashboard.
const (
	cookieAccessToken  = "access_token"
	cookieRefreshToken = "refresh_token"
	cookieSessionID    = "session_id"
)

// setAuthCookies writes the token and session cookies. When persist is
// false they are session cookies and vanish with the browser.
func (s *Server) setAuthCookies(w http.ResponseWriter, pair *auth.TokenPair, sessionID string, persist bool) {
	s.setCookie(w, cookieAccessToken, pair.AccessToken, s.tokens.AccessTTL(), persist)
	s.setCookie(w, cookieRefreshToken, pair.RefreshToken, s.tokens.RefreshTTL(), persist)
	if sessionID != "" {
		s.setCookie(w, cookieSessionID, sessionID, s.tokens.RefreshTTL(), persist)
	}
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration, persist bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.Cookies.Domain,
		HttpOnly: true,
		Secure:   s.cfg.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if persist {
		c.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, c)
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieAccessToken, cookieRefreshToken, cookieSessionID} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   s.cfg.Cookies.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cfg.Cookies.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// accessTokenFromRequest reads the bearer header, then the access_token cookie.
func accessTokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return cookieValue(r, cookieAccessToken)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// wantsCookies reports whether tokens should also be set as cookies. The
// companion app keeps its tokens in the keychain instead.
func wantsCookies(origin auth.ClientOrigin) bool {
	return origin != auth.OriginCompanion
}
