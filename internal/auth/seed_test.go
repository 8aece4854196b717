package auth

import (
	"context"
	"slices"
	"testing"
)

func TestSeedOwner_PromotesExistingAccounts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	roles := NewRoleRepository(db)

	boss := seedTestUser(t, db, "boss@example.com")
	ops := seedTestUser(t, db, "ops@example.com")
	plain := seedTestUser(t, db, "plain@example.com")

	policy := RolePolicy{
		AdminEmails: []string{"OPS@example.com", "ghost@example.com", "ops@example.com"},
		OwnerEmail:  "boss@example.com",
	}
	n, err := SeedOwner(ctx, users, roles, policy, nil)
	if err != nil {
		t.Fatalf("SeedOwner() error = %v", err)
	}
	if n != 2 {
		t.Errorf("SeedOwner() examined %d accounts, want 2", n)
	}

	check := func(u *User, want []string) {
		t.Helper()
		got, err := roles.RoleNamesForUser(ctx, u.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, want) {
			t.Errorf("%s roles = %v, want %v", u.Email, got, want)
		}
	}
	check(boss, []string{RoleAdmin, RoleOwner, RoleUser})
	check(ops, []string{RoleAdmin, RoleUser})
	check(plain, []string{RoleUser})

	// Running again changes nothing.
	if _, err := SeedOwner(ctx, users, roles, policy, nil); err != nil {
		t.Fatalf("second SeedOwner() error = %v", err)
	}
	check(boss, []string{RoleAdmin, RoleOwner, RoleUser})
}

func TestRolePolicy_RolesFor(t *testing.T) {
	p := RolePolicy{AdminEmails: []string{"a@x.io"}, OwnerEmail: "o@x.io"}

	if got := p.RolesFor("someone@x.io"); !slices.Equal(got, []string{RoleUser}) {
		t.Errorf("plain = %v", got)
	}
	if got := p.RolesFor("A@X.io"); !slices.Equal(got, []string{RoleUser, RoleAdmin}) {
		t.Errorf("admin = %v", got)
	}
	if got := p.RolesFor("o@x.io"); !slices.Equal(got, []string{RoleUser, RoleAdmin, RoleOwner}) {
		t.Errorf("owner = %v", got)
	}
}
