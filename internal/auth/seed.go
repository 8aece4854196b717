package auth

import (
	"context"
	"errors"
	"fmt"
)

// SeedOwner applies the role allowlist to accounts that already exist, so
// that adding an address to security.admin_emails or security.owner_email
// takes effect on the next start. Addresses without an account are skipped;
// they pick up their roles when they register.
// Returns the number of accounts examined.
func SeedOwner(ctx context.Context, users UserRepository, roles RoleAssigner, policy RolePolicy, logger Logger) (int, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	emails := append([]string{}, policy.AdminEmails...)
	if policy.OwnerEmail != "" {
		emails = append(emails, policy.OwnerEmail)
	}

	seen := make(map[string]struct{}, len(emails))
	examined := 0
	for _, email := range emails {
		email = NormalizeEmail(email)
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}

		user, err := users.GetByEmail(ctx, email)
		if errors.Is(err, ErrUserNotFound) {
			logger.Debug("allowlisted address has no account yet", "email", email)
			continue
		}
		if err != nil {
			return examined, fmt.Errorf("looking up %s: %w", email, err)
		}
		examined++

		for _, role := range policy.RolesFor(email) {
			if err := roles.AssignRole(ctx, user.ID, role); err != nil {
				return examined, fmt.Errorf("assigning %s to %s: %w", role, email, err)
			}
		}
		logger.Info("allowlist roles applied", "user_id", user.ID, "roles", policy.RolesFor(email))
	}
	return examined, nil
}
