// Package verification issues and checks one-time email verification codes.
//
// A code is six decimal digits, valid for ten minutes, and can be tried five
// times. One code may be requested per address per minute. Codes are stored
// in email_verification_codes and delivered through a Notifier.
//
// Consumption is a conditional update on used_at, so two requests racing
// with the same correct code cannot both succeed.
package verification
