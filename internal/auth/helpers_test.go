package auth

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/testutil/sqlitetest"
)

const (
	testAccessSecret  = "access-secret-for-tests-0123456789abcdef"
	testRefreshSecret = "refresh-secret-for-tests-0123456789abcdef"
	testPassword      = "Correct-Horse-9"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

// testVault shares one RSA key across the package; generating 2048-bit keys
// dominates test time otherwise.
func testVault(t *testing.T) *Vault {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := GenerateVaultKey()
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return NewVault(testKey, time.Hour)
}

func encrypt(t *testing.T, v *Vault, plaintext string) string {
	t.Helper()
	ct, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	return ct
}

// seedTestUser inserts a verified account with testPassword and the user role.
func seedTestUser(t *testing.T, db *sql.DB, email string) *User {
	t.Helper()
	ctx := context.Background()

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	verified := time.Now().UTC()
	u := &User{
		Email:              email,
		PasswordHash:       hash,
		ClientLoginEnabled: true,
		EmailVerifiedAt:    &verified,
	}
	if err := NewUserRepository(db).Create(ctx, u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	if err := NewRoleRepository(db).AssignRole(ctx, u.ID, RoleUser); err != nil {
		t.Fatalf("assigning role: %v", err)
	}
	return u
}

func newTestTokenService(db *sql.DB) *TokenService {
	return NewTokenService(TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	}, NewTokenRepository(db), NewUserRepository(db), NewRoleRepository(db))
}

// stubCodes accepts one code and counts how often it was asked.
type stubCodes struct {
	mu    sync.Mutex
	code  string
	err   error
	calls int
}

func (s *stubCodes) Verify(_ context.Context, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	if code != s.code {
		return ErrInvalidCredentials
	}
	return nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return sqlitetest.Open(t)
}
