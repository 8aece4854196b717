package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	codeTTL        = 10 * time.Minute
	resendInterval = 60 * time.Second
	maxAttempts    = 5
	staleAfter     = 24 * time.Hour

	codeMin = 100000
	codeMax = 999999
)

// PurposeRegister is the only purpose issued today.
const PurposeRegister = "register"

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Service.
type Options struct {
	// DevMode logs issued codes.
	DevMode bool
	Logger  Logger
}

// Service issues and verifies codes.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	repo     Repository
	notifier Notifier
	devMode  bool
	logger   Logger
	now      func() time.Time
}

// NewService creates a verification service.
func NewService(repo Repository, notifier Notifier, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		devMode:  opts.DevMode,
		logger:   logger,
		now:      time.Now,
	}
}

// SendCode issues a new code for email and dispatches it. It returns the
// code's expiry. If dispatch fails the code stays stored and ErrSendFailed
// is returned.
func (s *Service) SendCode(ctx context.Context, email, purpose string) (time.Time, error) {
	email = normalizeEmail(email)
	if email == "" {
		return time.Time{}, ErrInvalidEmail
	}
	if purpose == "" {
		purpose = PurposeRegister
	}
	if purpose != PurposeRegister {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnsupportedReason, purpose)
	}

	now := s.now()
	latest, err := s.repo.Latest(ctx, email)
	switch {
	case errors.Is(err, ErrCodeNotFound):
	case err != nil:
		return time.Time{}, err
	default:
		if elapsed := now.Sub(latest.CreatedAt); elapsed < resendInterval {
			return time.Time{}, &RateLimitError{RetryAfter: roundUpSecond(resendInterval - elapsed)}
		}
	}

	code, err := generateCode()
	if err != nil {
		return time.Time{}, err
	}

	record := &Code{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: now.Add(codeTTL),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return time.Time{}, err
	}

	if s.devMode {
		s.logger.Info("verification code issued", "email", email, "code", code)
	}

	if err := s.notifier.Notify(ctx, buildMessage(email, code, purpose)); err != nil {
		s.logger.Error("verification mail dispatch failed", "email", email, "error", err)
		return record.ExpiresAt, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return record.ExpiresAt, nil
}

// Verify consumes the newest unused code for email if it matches.
// Checks run in order: missing, expired, attempt cap, mismatch.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)

	record, err := s.repo.LatestUnused(ctx, email)
	if err != nil {
		return err
	}
	now := s.now()
	if !now.Before(record.ExpiresAt) {
		return ErrCodeExpired
	}
	if record.Attempts >= maxAttempts {
		return ErrTooManyAttempts
	}
	// Every guess takes a slot before it is compared.
	reserved, err := s.repo.ReserveAttempt(ctx, record.ID, maxAttempts)
	if err != nil {
		return err
	}
	if !reserved {
		return ErrTooManyAttempts
	}
	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(strings.TrimSpace(code))) != 1 {
		return ErrCodeMismatch
	}

	ok, err := s.repo.MarkUsed(ctx, record.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		// Another request consumed it between the read and the update.
		return ErrCodeNotFound
	}
	return nil
}

// DeleteStale removes codes that expired more than a day ago.
func (s *Service) DeleteStale(ctx context.Context) (int64, error) {
	return s.repo.DeleteStale(ctx, s.now().Add(-staleAfter))
}

// generateCode returns a uniformly random code in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

func roundUpSecond(d time.Duration) time.Duration {
	if r := d % time.Second; r != 0 {
		d += time.Second - r
	}
	return d
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
