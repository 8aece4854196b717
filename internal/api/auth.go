package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/session"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// publicKeyMaxAge is advertised in Cache-Control for the public key.
const publicKeyMaxAge = "public, max-age=3600"

type sendCodeRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose,omitempty"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"` // RSA ciphertext
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Remember *bool  `json:"remember,omitempty"`
	deviceFields
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` // RSA ciphertext
	Remember *bool  `json:"remember,omitempty"`
	deviceFields
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// authResponse is returned by register, login and refresh.
type authResponse struct {
	User             *auth.User `json:"user"`
	Permissions      []string   `json:"permissions"`
	AccessToken      string     `json:"access_token"`
	RefreshToken     string     `json:"refresh_token"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	SessionID        string     `json:"session_id,omitempty"`
}

func remember(flag *bool) bool {
	return flag == nil || *flag
}

func originOf(r *http.Request) auth.ClientOrigin {
	return auth.ParseClientOrigin(r.Header.Get(auth.ClientOriginHeader))
}

// markCaller lets the access log attribute public routes once the caller
// is known.
func markCaller(r *http.Request, userID string) {
	if slot, ok := r.Context().Value(ctxKeyCaller).(*callerSlot); ok {
		slot.userID = userID
	}
}

// handleSendCode issues a registration code.
func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !validEmail(req.Email) {
		writeValidation(w, "a valid email is required")
		return
	}

	expiresAt, err := s.codes.SendCode(r.Context(), req.Email, req.Purpose)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "verification code sent",
		"expires_at": expiresAt,
	})
}

// handleRegister creates an account, or links a password to an existing
// account that has none, and signs the caller in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	switch {
	case !validEmail(req.Email):
		writeValidation(w, "a valid email is required")
		return
	case !validCode(req.Code):
		writeValidation(w, "code must be 6 digits")
		return
	case req.Password == "":
		writeValidation(w, "password is required")
		return
	}
	if msg := validateProfile(req.Username, req.FullName); msg != "" {
		writeValidation(w, msg)
		return
	}
	if msg := req.deviceFields.validate(); msg != "" {
		writeValidation(w, msg)
		return
	}

	origin := originOf(r)
	user, created, err := s.accounts.Register(r.Context(), auth.RegisterInput{
		Email:             req.Email,
		Code:              req.Code,
		EncryptedPassword: req.Password,
		Username:          req.Username,
		FullName:          req.FullName,
		Origin:            origin,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	markCaller(r, user.ID)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.signIn(w, r, status, user, req.deviceFields, remember(req.Remember))
}

// handleLogin authenticates with email and an encrypted password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !validEmail(req.Email) || req.Password == "" {
		writeValidation(w, "email and password are required")
		return
	}
	if msg := req.deviceFields.validate(); msg != "" {
		writeValidation(w, msg)
		return
	}

	user, err := s.accounts.Authenticate(r.Context(), auth.AuthenticateInput{
		Email:             req.Email,
		EncryptedPassword: req.Password,
		Origin:            originOf(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	markCaller(r, user.ID)
	s.signIn(w, r, http.StatusOK, user, req.deviceFields, remember(req.Remember))
}

// signIn issues a token pair, opens a session and writes the response.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, status int, user *auth.User, dev deviceFields, persist bool) {
	ctx := r.Context()
	origin := originOf(r)

	pair, err := s.tokens.IssuePair(ctx, user, dev.DeviceID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sess, err := s.sessions.Open(ctx, user.ID, session.DeviceInfo{
		DeviceID:     dev.DeviceID,
		DeviceName:   dev.DeviceName,
		DeviceType:   dev.DeviceType,
		IPAddress:    s.clientIP(r),
		UserAgent:    r.UserAgent(),
		ClientSource: origin.String(),
		AuthMethod:   "password",
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	perms, err := s.roles.PermissionsForUser(ctx, user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if wantsCookies(origin) {
		s.setAuthCookies(w, pair, sess.ID, persist)
	}
	logging.FromContext(ctx, s.logger).Info("user signed in",
		"user_id", user.ID, "session_id", sess.ID, "client_source", origin.String())

	writeJSON(w, status, authResponse{
		User:             user,
		Permissions:      perms,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        sess.ID,
	})
}

// handleRefresh rotates a refresh token. A token that was already used
// answers 409.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = cookieValue(r, cookieRefreshToken)
	}
	if token == "" {
		writeUnauthorized(w, "refresh token required")
		return
	}

	pair, user, err := s.tokens.Rotate(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	markCaller(r, user.ID)

	perms, err := s.roles.PermissionsForUser(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if wantsCookies(originOf(r)) {
		s.setAuthCookies(w, pair, "", true)
	}
	writeJSON(w, http.StatusOK, authResponse{
		User:             user,
		Permissions:      perms,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// handleLogout revokes the refresh token and closes the session, taking
// either from the body or from cookies. Both steps tolerate stale input.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req logoutRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	refresh := req.RefreshToken
	if refresh == "" {
		refresh = cookieValue(r, cookieRefreshToken)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = cookieValue(r, cookieSessionID)
	}

	if refresh != "" {
		if err := s.tokens.Revoke(r.Context(), p.UserID, refresh); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	if sessionID != "" && validUUID(sessionID) {
		_, err := s.sessions.Close(r.Context(), sessionID, p.UserID)
		if err != nil && !errors.Is(err, session.ErrSessionEnded) && !errors.Is(err, session.ErrSessionNotFound) {
			s.writeServiceError(w, r, err)
			return
		}
	}

	s.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	pem, err := s.vault.PublicKeyPEM()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", publicKeyMaxAge)
	writeJSON(w, http.StatusOK, map[string]string{"public_key": pem})
}

// handleMe returns the caller's account with the token's permission snapshot.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	user, err := s.users.GetByID(r.Context(), p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	roles, err := s.roles.RoleNamesForUser(r.Context(), p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"roles":       roles,
		"permissions": p.Permissions,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	var req changePasswordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeValidation(w, "current_password and new_password are required")
		return
	}
	if err := s.accounts.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed, sign in again"})
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	userID    string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

func (t *ticketStore) issue(userID string) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{userID: userID, expiresAt: time.Now().Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume checks a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)
	return entry, time.Now().Before(entry.expiresAt)
}

func (t *ticketStore) cleanExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(p.UserID),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop drops expired tickets until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.cleanExpired()
		}
	}
}
