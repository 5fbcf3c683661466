package authguard

import (
	"log/slog"
	"time"

	"github.com/nutrilog/authguard/eventlog"
	"github.com/nutrilog/authguard/ratelimit"
	"github.com/nutrilog/authguard/session"
)

// Built-in guarded action names. Hosts may add their own action classes;
// the control plane treats action names opaquely.
const (
	ActionLogin         = "login"
	ActionPasswordReset = "password_reset"
	ActionAPI           = "api"
)

// Config holds the control plane configuration
// Structured using composition: each component keeps its own config type
type Config struct {
	// Actions maps a guarded action name to its rate limit policy.
	// Actions without an entry are not rate limited.
	// If nil, DefaultActionLimits() is used.
	Actions map[string]ratelimit.Config

	// Session holds session lifetime policy.
	Session session.Config

	// Events holds event log settings.
	Events eventlog.Config

	// RateLimitSweepInterval is how often expired rate limit entries are
	// swept. Default: 1 minute.
	RateLimitSweepInterval time.Duration

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount specifies how many proxies to trust from the right
	// of X-Forwarded-For. Zero means one trusted proxy.
	TrustedProxyCount int

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// DefaultActionLimits returns the rate limit policies for the built-in
// actions. Login and password reset are tight by design; the api class is
// a general per-caller ceiling.
func DefaultActionLimits() map[string]ratelimit.Config {
	return map[string]ratelimit.Config{
		ActionLogin: {
			Window:        15 * time.Minute,
			MaxRequests:   5,
			BlockDuration: 30 * time.Minute,
		},
		ActionPasswordReset: {
			Window:        time.Hour,
			MaxRequests:   3,
			BlockDuration: 2 * time.Hour,
		},
		ActionAPI: {
			Window:        time.Minute,
			MaxRequests:   120,
			BlockDuration: 5 * time.Minute,
		},
	}
}

func (c Config) applyDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Actions == nil {
		c.Actions = DefaultActionLimits()
	}
	if c.RateLimitSweepInterval <= 0 {
		c.RateLimitSweepInterval = time.Minute
	}
	return c
}
