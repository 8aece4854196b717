package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
	placeholderBytes  = 32
)

// TokenConfig holds the signing secrets and lifetimes. The two secrets must
// differ so an access token can never pass as a refresh token.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenPair is what login, register and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenService issues, verifies and rotates tokens.
//
// Thread Safety: safe for concurrent use. Rotation races are settled by the
// repository's conditional update, not by locks in this process.
type TokenService struct {
	cfg    TokenConfig
	tokens TokenRepository
	users  UserLookup
	perms  PermissionLookup
	logger Logger
	now    func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(cfg TokenConfig, tokens TokenRepository, users UserLookup, perms PermissionLookup) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	return &TokenService{
		cfg:    cfg,
		tokens: tokens,
		users:  users,
		perms:  perms,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *TokenService) SetLogger(logger Logger) {
	s.logger = logger
}

// AccessTTL is the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// RefreshTTL is the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// IssueAccess signs an access token carrying a permission snapshot.
func (s *TokenService) IssueAccess(user *User, permissions []string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	if permissions == nil {
		permissions = []string{}
	}
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:       user.Email,
		Permissions: permissions,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccess verifies an access token. Expiry yields ErrTokenExpired; any
// other defect yields ErrTokenInvalid.
func (s *TokenService) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(token, s.cfg.AccessSecret, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email", ErrTokenInvalid)
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token's signature and lifetime only.
// Whether it is still usable is decided by Rotate.
func (s *TokenService) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(token, s.cfg.RefreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or jti", ErrTokenInvalid)
	}
	return claims, nil
}

func (s *TokenService) parse(token, secret string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return nil
}

// IssueRefresh creates the refresh row, signs a token naming it as jti and
// stores the token's digest. The row is written first with a random
// placeholder digest because the jti must exist before signing.
func (s *TokenService) IssueRefresh(ctx context.Context, userID, deviceID string) (string, time.Time, error) {
	placeholder := make([]byte, placeholderBytes)
	if _, err := rand.Read(placeholder); err != nil {
		return "", time.Time{}, fmt.Errorf("generating placeholder: %w", err)
	}

	now := s.now()
	exp := now.Add(s.cfg.RefreshTTL)
	row := &RefreshToken{
		UserID:    userID,
		TokenHash: "pending-" + hex.EncodeToString(placeholder),
		DeviceID:  deviceID,
		ExpiresAt: exp,
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return "", time.Time{}, err
	}

	claims := RefreshClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		ID:        row.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing refresh token: %w", err)
	}

	if err := s.tokens.SetTokenHash(ctx, row.ID, HashToken(signed)); err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssuePair resolves live permissions and issues both tokens.
func (s *TokenService) IssuePair(ctx context.Context, user *User, deviceID string) (*TokenPair, error) {
	perms, err := s.perms.PermissionsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving permissions: %w", err)
	}
	access, accessExp, err := s.IssueAccess(user, perms)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefresh(ctx, user.ID, deviceID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. Each refresh token can be
// exchanged once: of two concurrent calls with the same token exactly one
// succeeds and the other gets ErrTokenRevoked.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (*TokenPair, *User, error) {
	claims, err := s.ParseRefresh(refreshToken)
	if err != nil {
		return nil, nil, err
	}

	row, err := s.tokens.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil, nil, ErrTokenRevoked
		}
		return nil, nil, err
	}
	if row.UserID != claims.Subject || row.TokenHash != HashToken(refreshToken) {
		return nil, nil, ErrTokenRevoked
	}
	if row.Revoked() {
		s.logger.Warn("refresh token reuse detected, possible theft",
			"user_id", row.UserID, "token_id", row.ID)
		return nil, nil, ErrTokenRevoked
	}

	won, err := s.tokens.RevokeIfActive(ctx, row.ID, row.UserID, s.now())
	if err != nil {
		return nil, nil, err
	}
	if !won {
		s.logger.Warn("refresh token consumed concurrently",
			"user_id", row.UserID, "token_id", row.ID)
		return nil, nil, ErrTokenRevoked
	}

	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrTokenRevoked
		}
		return nil, nil, err
	}

	pair, err := s.IssuePair(ctx, user, row.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Revoke invalidates a refresh token on logout. Unknown, foreign or already
// revoked tokens are ignored.
func (s *TokenService) Revoke(ctx context.Context, userID, refreshToken string) error {
	claims, err := s.ParseRefresh(refreshToken)
	if err != nil {
		return nil //nolint:nilerr // nothing to revoke
	}
	if claims.Subject != userID {
		return nil
	}
	if _, err := s.tokens.RevokeIfActive(ctx, claims.ID, userID, s.now()); err != nil {
		return err
	}
	return nil
}

// RevokeAllForUser revokes every refresh token the user holds.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return err
	}
	s.logger.Info("refresh tokens revoked", "user_id", userID, "count", n)
	return nil
}

// DeleteExpired removes expired refresh rows.
func (s *TokenService) DeleteExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now())
}
