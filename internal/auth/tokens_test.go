package auth

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenService_AccessRoundTrip(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "alice@example.com")

	token, exp, err := svc.IssueAccess(user, []string{PermStatsRead})
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}
	if exp.Before(time.Now()) {
		t.Errorf("expiry %v is in the past", exp)
	}

	claims, err := svc.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess() error = %v", err)
	}
	if claims.Subject != user.ID {
		t.Errorf("Subject = %q, want %q", claims.Subject, user.ID)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if !claims.HasPermission(PermStatsRead) || claims.HasPermission(PermAdminUsersRead) {
		t.Errorf("Permissions = %v", claims.Permissions)
	}
}

func TestTokenService_ParseAccessRejects(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "bob@example.com")

	valid, _, err := svc.IssueAccess(user, nil)
	if err != nil {
		t.Fatal(err)
	}
	refresh, _, err := svc.IssueRefresh(context.Background(), user.ID, "")
	if err != nil {
		t.Fatal(err)
	}

	wrongSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: user.Email,
	}).SignedString([]byte("some-other-secret-that-is-long-enough"))
	if err != nil {
		t.Fatal(err)
	}

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: user.Email,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.jwt"},
		{"tampered", valid + "x"},
		{"wrong secret", wrongSecret},
		{"alg none", noneAlg},
		{"refresh token", refresh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ParseAccess(tt.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseAccess() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestTokenService_ParseAccessExpired(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "carol@example.com")

	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }
	token, _, err := svc.IssueAccess(user, nil)
	if err != nil {
		t.Fatal(err)
	}

	svc.now = time.Now
	if _, err := svc.ParseAccess(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseAccess() error = %v, want ErrTokenExpired", err)
	}
}

func TestTokenService_RotateIsSingleUse(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "dave@example.com")
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user, "device-1")
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	next, rotated, err := svc.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if rotated.ID != user.ID {
		t.Errorf("rotated user = %q, want %q", rotated.ID, user.ID)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("Rotate() returned the same refresh token")
	}

	if _, _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("second Rotate() error = %v, want ErrTokenRevoked", err)
	}

	// The replacement keeps working and keeps the device.
	third, _, err := svc.Rotate(ctx, next.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate(next) error = %v", err)
	}
	claims, err := svc.ParseRefresh(third.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	row, err := NewTokenRepository(db).GetByID(ctx, claims.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.DeviceID != "device-1" {
		t.Errorf("DeviceID = %q, want device-1", row.DeviceID)
	}
}

func TestTokenService_RotateUsesLivePermissions(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "erin@example.com")
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := NewRoleRepository(db).AssignRole(ctx, user.ID, RoleAdmin); err != nil {
		t.Fatal(err)
	}

	next, _, err := svc.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ParseAccess(next.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(claims.Permissions, PermAdminUsersRead) {
		t.Errorf("rotated permissions = %v, want admin grants", claims.Permissions)
	}
}

// TestResilience_TokenRotation_ConcurrentRefresh presents one refresh token
// from many goroutines at once. Exactly one may win.
func TestResilience_TokenRotation_ConcurrentRefresh(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "race@example.com")
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user, "")
	if err != nil {
		t.Fatal(err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	start := make(chan struct{})
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := svc.Rotate(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var ok, revoked int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTokenRevoked):
			revoked++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || revoked != attempts-1 {
		t.Errorf("successes = %d, revoked = %d; want 1 and %d", ok, revoked, attempts-1)
	}
}

func TestTokenService_RotateRejectsForgedJTI(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "frank@example.com")

	// Correctly signed, but names a row that was never issued.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{jwt.RegisteredClaims{
		Subject:   user.ID,
		ID:        "no-such-row",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte(testRefreshSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.Rotate(context.Background(), forged); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Rotate() error = %v, want ErrTokenRevoked", err)
	}
}

func TestTokenService_RevokeIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "gina@example.com")
	other := seedTestUser(t, db, "hank@example.com")
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user, "")
	if err != nil {
		t.Fatal(err)
	}

	// Someone else's logout cannot revoke it.
	if err := svc.Revoke(ctx, other.ID, pair.RefreshToken); err != nil {
		t.Fatalf("Revoke(other) error = %v", err)
	}
	if _, _, err := svc.Rotate(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("token should survive a foreign revoke: %v", err)
	}

	pair, err = svc.IssuePair(ctx, user, "")
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := svc.Revoke(ctx, user.ID, pair.RefreshToken); err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
	}
	if err := svc.Revoke(ctx, user.ID, "garbage"); err != nil {
		t.Errorf("Revoke(garbage) error = %v", err)
	}
	if _, _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Rotate() after logout error = %v, want ErrTokenRevoked", err)
	}
}

func TestTokenService_RevokeAllAndDeleteExpired(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(db)
	user := seedTestUser(t, db, "ivy@example.com")
	ctx := context.Background()

	a, err := svc.IssuePair(ctx, user, "a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.IssuePair(ctx, user, "b")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.RevokeAllForUser(ctx, user.ID); err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}
	for _, p := range []*TokenPair{a, b} {
		if _, _, err := svc.Rotate(ctx, p.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("Rotate() error = %v, want ErrTokenRevoked", err)
		}
	}

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err := svc.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteExpired() = %d, want 2", n)
	}
}
