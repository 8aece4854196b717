package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// CodeVerifier consumes a one-time email verification code.
type CodeVerifier interface {
	Verify(ctx context.Context, email, code string) error
}

// TokenRevoker revokes all refresh tokens of a user.
type TokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

// RoleAssigner grants a role by name.
type RoleAssigner interface {
	AssignRole(ctx context.Context, userID, roleName string) error
}

// RolePolicy decides the roles a new account starts with.
type RolePolicy struct {
	AdminEmails []string
	OwnerEmail  string
}

// RolesFor returns the roles for email: always user, plus admin for
// allowlisted addresses, plus owner (and admin) for the owner address.
func (p RolePolicy) RolesFor(email string) []string {
	email = NormalizeEmail(email)
	roles := []string{RoleUser}

	isOwner := p.OwnerEmail != "" && NormalizeEmail(p.OwnerEmail) == email
	isAdmin := isOwner || slices.ContainsFunc(p.AdminEmails, func(a string) bool {
		return NormalizeEmail(a) == email
	})
	if isAdmin {
		roles = append(roles, RoleAdmin)
	}
	if isOwner {
		roles = append(roles, RoleOwner)
	}
	return roles
}

// AccountService implements registration, password login and password change.
type AccountService struct {
	vault  *Vault
	users  UserRepository
	codes  CodeVerifier
	tokens TokenRevoker
	policy RolePolicy
	logger Logger
	now    func() time.Time
}

// AccountDeps holds the dependencies of an AccountService.
type AccountDeps struct {
	Vault  *Vault
	Users  UserRepository
	Codes  CodeVerifier
	Tokens TokenRevoker
	Policy RolePolicy
	Logger Logger
}

// NewAccountService creates an account service.
func NewAccountService(deps AccountDeps) *AccountService {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &AccountService{
		vault:  deps.Vault,
		users:  deps.Users,
		codes:  deps.Codes,
		tokens: deps.Tokens,
		policy: deps.Policy,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterInput is a registration request. Password is RSA ciphertext.
type RegisterInput struct {
	Email             string
	Code              string
	EncryptedPassword string
	Username          string
	FullName          string
	Origin            ClientOrigin
}

// Register creates an account, or links a password to an existing account
// that has none. created reports which happened. Every check that can fail
// runs before the code is consumed, and the account writes are atomic.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (user *User, created bool, err error) {
	email := NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)

	password, err := s.vault.Decrypt(in.EncryptedPassword)
	if err != nil {
		return nil, false, err
	}
	if err := ValidatePolicy(password); err != nil {
		return nil, false, err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		existing = nil
	case err != nil:
		return nil, false, err
	case existing.HasPassword():
		return nil, false, ErrEmailExists
	}

	if username != "" {
		exceptID := ""
		if existing != nil {
			exceptID = existing.ID
		}
		taken, err := s.users.UsernameTaken(ctx, username, exceptID)
		if err != nil {
			return nil, false, err
		}
		if taken {
			return nil, false, ErrUsernameExists
		}
	}

	hash, err := s.vault.Hash(password)
	if err != nil {
		return nil, false, fmt.Errorf("hashing password: %w", err)
	}

	if err := s.codes.Verify(ctx, email, in.Code); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	enrollment := Enrollment{Roles: s.policy.RolesFor(email), LoginAt: now}
	if existing != nil {
		enrollment.LinkID = existing.ID
		enrollment.Link = PasswordLink{
			PasswordHash: hash,
			Username:     username,
			FullName:     strings.TrimSpace(in.FullName),
			VerifiedAt:   now,
		}
	} else {
		enrollment.User = &User{
			Email:              email,
			Username:           username,
			FullName:           strings.TrimSpace(in.FullName),
			PasswordHash:       hash,
			AccountType:        AccountClient,
			RegistrationSource: in.Origin.String(),
			ClientLoginEnabled: true,
			EmailVerifiedAt:    &now,
		}
		created = true
	}
	if err := s.users.Enroll(ctx, enrollment); err != nil {
		return nil, false, err
	}

	userID := enrollment.LinkID
	if created {
		userID = enrollment.User.ID
		s.logger.Info("account registered", "user_id", userID, "source", enrollment.User.RegistrationSource)
	} else {
		s.logger.Info("password linked to existing account", "user_id", userID)
	}

	user, err = s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// AuthenticateInput is a password login request. Password is RSA ciphertext.
type AuthenticateInput struct {
	Email             string
	EncryptedPassword string
	Origin            ClientOrigin
}

// Authenticate checks a password login and records it.
func (s *AccountService) Authenticate(ctx context.Context, in AuthenticateInput) (*User, error) {
	password, err := s.vault.Decrypt(in.EncryptedPassword)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if user == nil || !user.HasPassword() {
		burnVerify(password)
		return nil, ErrInvalidCredentials
	}

	if !s.vault.Verify(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if user.EmailVerifiedAt == nil {
		return nil, ErrEmailNotVerified
	}
	if in.Origin == OriginCompanion && !user.ClientLoginEnabled {
		return nil, ErrClientLoginDisabled
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now
	return user, nil
}

// ChangePassword replaces the caller's password and signs out every other
// device by revoking all refresh tokens.
func (s *AccountService) ChangePassword(ctx context.Context, userID, encCurrent, encNew string) error {
	current, err := s.vault.Decrypt(encCurrent)
	if err != nil {
		return err
	}
	next, err := s.vault.Decrypt(encNew)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() || !s.vault.Verify(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := ValidatePolicy(next); err != nil {
		return err
	}

	hash, err := s.vault.Hash(next)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("password changed", "user_id", userID)
	return nil
}
