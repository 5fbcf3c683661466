// Package memory provides an in-memory identity provider backed by bcrypt
// password hashes. Suitable for development, testing, and single-process
// deployments; accounts do not survive restarts.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/nutrilog/authguard/identity"
)

const (
	// DefaultAccessTokenTTL is the issued access token lifetime
	DefaultAccessTokenTTL = 15 * time.Minute

	// dummyHash is a pre-computed bcrypt hash (of "test") compared against
	// when the user does not exist, so unknown users and wrong passwords
	// take the same time to reject
	dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// Config holds provider settings.
type Config struct {
	// AccessTokenTTL is the issued access token lifetime. Default: 15 minutes.
	AccessTokenTTL time.Duration

	// BcryptCost is the hashing cost for new passwords. Default: bcrypt.DefaultCost.
	BcryptCost int
}

func (c Config) applyDefaults() Config {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return c
}

type account struct {
	user         identity.User
	passwordHash []byte
}

// Store is an in-memory identity provider. All methods are safe for
// concurrent use.
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]*account // lowercase email -> account
	refreshTokens map[string]string   // refresh token -> lowercase email

	cfg    Config
	logger *slog.Logger
}

// Compile-time interface check
var _ identity.Provider = (*Store)(nil)

// NewStore creates an in-memory identity provider.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		accounts:      make(map[string]*account),
		refreshTokens: make(map[string]string),
		cfg:           cfg.applyDefaults(),
		logger:        logger,
	}
}

// Name returns the provider name.
func (s *Store) Name() string {
	return "memory"
}

// Register creates an account. The email is normalized to lower case and
// must not already be registered.
func (s *Store) Register(ctx context.Context, email, password, name string) (*identity.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[email]; exists {
		return nil, fmt.Errorf("account already exists")
	}

	user := identity.User{
		ID:    uuid.NewString(),
		Email: email,
		Name:  name,
	}
	s.accounts[email] = &account{user: user, passwordHash: hash}

	s.logger.Info("Account registered", "user_id", user.ID)

	return &user, nil
}

// SetPassword replaces an account's password hash. Used by the password
// reset flow after the reset has been authorized out of band.
func (s *Store) SetPassword(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[email]
	if !exists {
		return identity.ErrInvalidCredentials
	}
	acct.passwordHash = hash

	return nil
}

// Authenticate verifies an email/password pair and issues a token pair.
// A bcrypt comparison is always performed, against a dummy hash when the
// account does not exist, so rejection time does not reveal whether the
// email is registered.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*identity.User, *oauth2.Token, error) {
	email = normalizeEmail(email)

	s.mu.RLock()
	acct, exists := s.accounts[email]
	s.mu.RUnlock()

	hashToCompare := []byte(dummyHash)
	if exists {
		hashToCompare = acct.passwordHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword(hashToCompare, []byte(password))

	if !exists || bcryptErr != nil {
		return nil, nil, identity.ErrInvalidCredentials
	}

	user := acct.user
	token := s.issueToken(email)

	return &user, token, nil
}

// Refresh exchanges a refresh token for a fresh token pair, rotating the
// spent token out.
func (s *Store) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	s.mu.Lock()
	email, ok := s.refreshTokens[refreshToken]
	if ok {
		delete(s.refreshTokens, refreshToken)
	}
	s.mu.Unlock()

	if !ok {
		return nil, identity.ErrInvalidRefreshToken
	}

	return s.issueToken(email), nil
}

// HealthCheck reports the provider as healthy; the in-memory store has no
// external dependencies to probe.
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

// issueToken mints an opaque token pair and records the refresh token.
func (s *Store) issueToken(email string) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(s.cfg.AccessTokenTTL),
	}

	s.mu.Lock()
	s.refreshTokens[token.RefreshToken] = email
	s.mu.Unlock()

	return token
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
