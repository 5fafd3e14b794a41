package service

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the session manager; the transport maps every refresh failure below to one
// indistinguishable response.
var (
	// ErrMalformed: the presented credential is untrusted or corrupt.
	ErrMalformed = errors.New("malformed credential")
	// ErrExpired: the credential or its stored token is past expiry.
	ErrExpired = errors.New("credential expired")
	// ErrNoToken: there is no usable refresh state for the presented credential.
	ErrNoToken = errors.New("no refresh token")
	// ErrInvalidated: the presented refresh credential was already consumed or revoked.
	ErrInvalidated = errors.New("refresh token invalidated")
	// ErrSessionClosed: the session was terminated out of band; client credentials should be discarded.
	ErrSessionClosed = errors.New("session closed")
	// ErrUserNotEligible: the account does not exist or may not authenticate.
	ErrUserNotEligible = errors.New("user not eligible")
	// ErrRefreshRateLimited is wrapped by RefreshRateLimitError.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
)

// RefreshRateLimitError reports a throttled refresh and when the caller may retry.
type RefreshRateLimitError struct {
	SessionID  string
	RetryAfter time.Duration
}

func (e *RefreshRateLimitError) Error() string {
	return fmt.Sprintf("refresh rate limited for session %s: retry after %s", e.SessionID, e.RetryAfter)
}

func (e *RefreshRateLimitError) Unwrap() error { return ErrRefreshRateLimited }

// IsRefreshRejection reports whether err means "log in again" rather than an internal failure.
func IsRefreshRejection(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrNoToken) ||
		errors.Is(err, ErrInvalidated) ||
		errors.Is(err, ErrSessionClosed)
}
