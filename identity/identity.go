// Package identity defines the interface for credential verification backends
// and the user model the security runtime operates on. The control plane
// authenticates against a Provider and issues sessions for the returned user;
// swapping the backing user store (in-memory, database, external IdP) is a
// matter of implementing this interface.
package identity

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrInvalidCredentials is returned when an email/password pair does not
// match a known user. Providers must return this error (possibly wrapped)
// for both unknown users and wrong passwords so callers cannot distinguish
// the two cases.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidRefreshToken is returned when a refresh token is unknown,
// expired, or already rotated.
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// User represents an authenticated account.
type User struct {
	// ID is the unique user identifier
	ID string

	// Email is the user's email address
	Email string

	// EmailVerified indicates if the email is verified
	EmailVerified bool

	// Name is the user's display name
	Name string
}

// Provider defines the interface for credential verification backends.
type Provider interface {
	// Name returns the provider name (e.g., "memory", "postgres")
	Name() string

	// Authenticate verifies an email/password pair and issues a token pair
	// for the user. Returns ErrInvalidCredentials when the pair does not
	// match; implementations must take the same time for unknown users and
	// wrong passwords.
	Authenticate(ctx context.Context, email, password string) (*User, *oauth2.Token, error)

	// Refresh exchanges a refresh token for a fresh token pair. The spent
	// refresh token is rotated out; presenting it again returns
	// ErrInvalidRefreshToken.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// HealthCheck verifies that the provider is reachable and functioning.
	// Useful for readiness probes and startup validation.
	HealthCheck(ctx context.Context) error
}
