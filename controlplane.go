// Package authguard is an in-process security control plane for web
// applications: a fixed-window rate limiter with escalating blocks, a
// session lifecycle store, and a security event log with real-time abuse
// detection, composed behind the call sites a host actually has (login,
// logout, password reset, protected-resource access).
//
// The library is transport-agnostic. The host extracts the client IP
// (GetClientIP), derives a device fingerprint (Fingerprint), and calls the
// ControlPlane; SecurityError results map directly onto HTTP responses and
// SetRateLimitHeaders writes the client-visible quota headers.
package authguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nutrilog/authguard/eventlog"
	"github.com/nutrilog/authguard/identity"
	"github.com/nutrilog/authguard/instrumentation"
	"github.com/nutrilog/authguard/ratelimit"
	"github.com/nutrilog/authguard/session"
)

// ControlPlane composes the rate limiter, session store, and event log
// behind the host-facing authentication operations. The event log observes
// the other two components only through the event metadata passed to it.
// All methods are safe for concurrent use.
type ControlPlane struct {
	limiter  *ratelimit.Limiter
	sessions *session.Store
	events   *eventlog.Log
	provider identity.Provider

	cfg    Config
	logger *slog.Logger

	instMu sync.RWMutex
	inst   *instrumentation.Instrumentation

	stopOnce sync.Once
}

// New creates a control plane with its three components started.
// Call Stop when the application shuts down.
func New(cfg Config, provider identity.Provider) (*ControlPlane, error) {
	if provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	cfg = cfg.applyDefaults()

	p := &ControlPlane{
		limiter:  ratelimit.NewWithSweepInterval(cfg.RateLimitSweepInterval, cfg.Logger),
		sessions: session.NewStore(cfg.Session, cfg.Logger),
		events:   eventlog.New(cfg.Events, cfg.Logger),
		provider: provider,
		cfg:      cfg,
		logger:   cfg.Logger,
	}

	p.sessions.SetRenewFunc(func(ctx context.Context, rec session.Record) (string, string, error) {
		token, err := provider.Refresh(ctx, rec.RefreshToken)
		if err != nil {
			return "", "", err
		}
		return token.AccessToken, token.RefreshToken, nil
	})

	p.logger.Info("security control plane initialized",
		"provider", provider.Name(),
		"actions", len(cfg.Actions))

	return p, nil
}

// SetInstrumentation wires OpenTelemetry metrics across the components and
// registers the size gauges. Call once, before the plane is shared.
func (p *ControlPlane) SetInstrumentation(inst *instrumentation.Instrumentation) error {
	p.instMu.Lock()
	p.inst = inst
	p.instMu.Unlock()

	p.events.SetInstrumentation(inst)

	return inst.RegisterSizeCallbacks(
		p.limiter.Size,
		p.sessions.Size,
		p.events.EntryCount,
		p.events.AlertCount,
	)
}

func (p *ControlPlane) instrumentation() *instrumentation.Instrumentation {
	p.instMu.RLock()
	defer p.instMu.RUnlock()
	return p.inst
}

func (p *ControlPlane) metrics() *instrumentation.Metrics {
	if inst := p.instrumentation(); inst != nil {
		return inst.Metrics()
	}
	return nil
}

// startSpan opens a span on the core tracer and stamps the client IP when the
// instrumentation's privacy settings allow it. The span is nil when no
// instrumentation is wired; the tracing helpers tolerate that.
func (p *ControlPlane) startSpan(ctx context.Context, name string, rc RequestContext) (context.Context, trace.Span) {
	inst := p.instrumentation()
	if inst == nil {
		return ctx, nil
	}
	ctx, span := inst.Tracer("core").Start(ctx, name)
	if inst.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, rc.IPAddress)
	}
	return ctx, span
}

// Stop shuts down the component sweep goroutines. Idempotent.
func (p *ControlPlane) Stop() {
	p.stopOnce.Do(func() {
		p.limiter.Stop()
		p.sessions.Stop()
	})
}

// RateLimiter returns the underlying rate limiter.
func (p *ControlPlane) RateLimiter() *ratelimit.Limiter { return p.limiter }

// Sessions returns the underlying session store.
func (p *ControlPlane) Sessions() *session.Store { return p.sessions }

// Events returns the underlying security event log.
func (p *ControlPlane) Events() *eventlog.Log { return p.events }

// Provider returns the identity provider the plane authenticates against.
func (p *ControlPlane) Provider() identity.Provider { return p.provider }

// RequestContext carries the transport-level attributes of a call. The host
// fills it from the incoming request; Fingerprint is derived from UserAgent
// when left empty.
type RequestContext struct {
	IPAddress   string
	UserAgent   string
	DeviceID    string
	Fingerprint string
}

func (rc RequestContext) fingerprint() string {
	if rc.Fingerprint != "" {
		return rc.Fingerprint
	}
	return Fingerprint(rc.UserAgent)
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	User      identity.User
	Session   session.Record
	RateLimit ratelimit.Result
}

// Login gates the attempt through the composite (IP + fingerprint) rate
// limit, verifies the credentials, and creates a session. Failures are
// logged to the event log; the returned error is a *SecurityError the host
// can map onto its response.
func (p *ControlPlane) Login(ctx context.Context, email, password string, rc RequestContext) (*LoginResult, error) {
	ctx, span := p.startSpan(ctx, "authguard.login", rc)
	defer instrumentation.EndSpan(span)
	instrumentation.AddAuthAttributes(span, "", "", ActionLogin)

	result, err := p.gate(ctx, ActionLogin, rc)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	user, token, authErr := p.provider.Authenticate(ctx, email, password)
	if authErr != nil {
		p.events.Append(eventlog.Entry{
			Level:     eventlog.LevelWarn,
			Category:  eventlog.CategoryAuth,
			Action:    "login_failed",
			IPAddress: rc.IPAddress,
			UserAgent: rc.UserAgent,
		})
		instrumentation.SetSpanError(span, "invalid credentials")
		return nil, ErrBadCredentials()
	}

	rec, createErr := p.sessions.Create(ctx, session.CreateParams{
		UserID:       user.ID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		DeviceID:     rc.DeviceID,
		UserAgent:    rc.UserAgent,
		IPAddress:    rc.IPAddress,
	})
	if createErr != nil {
		p.logger.Error("session creation failed after successful authentication",
			"user_id", user.ID, "error", createErr)
		instrumentation.RecordError(span, createErr)
		return nil, ErrServerError("failed to create session")
	}

	p.events.Append(eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Category:  eventlog.CategoryAuth,
		Action:    "login_success",
		UserID:    user.ID,
		SessionID: rec.ID,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	})
	// A session-category event as well, so logins feed the per-user
	// multiple-IP anomaly detector.
	p.events.Append(eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Category:  eventlog.CategorySession,
		Action:    "session_created",
		UserID:    user.ID,
		SessionID: rec.ID,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	})

	if m := p.metrics(); m != nil {
		m.RecordSessionCreated(ctx)
	}

	instrumentation.AddAuthAttributes(span, user.ID, rec.ID, ActionLogin)
	instrumentation.SetSpanSuccess(span)

	return &LoginResult{User: *user, Session: *rec, RateLimit: result}, nil
}

// Logout invalidates a session. Idempotent: logging out an unknown or
// already-ended session succeeds without a second event.
func (p *ControlPlane) Logout(ctx context.Context, sessionID string, rc RequestContext) {
	ctx, span := p.startSpan(ctx, "authguard.logout", rc)
	defer instrumentation.EndSpan(span)
	instrumentation.AddAuthAttributes(span, "", sessionID, "")

	rec, known := p.sessions.Get(sessionID)
	if !p.sessions.Invalidate(sessionID, session.ReasonLogout) {
		instrumentation.SetSpanSuccess(span)
		return
	}

	entry := eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Category:  eventlog.CategorySession,
		Action:    "logout",
		SessionID: sessionID,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	}
	if known {
		entry.UserID = rec.UserID
	}
	p.events.Append(entry)

	if m := p.metrics(); m != nil {
		m.RecordSessionInvalidated(ctx, string(session.ReasonLogout))
	}
	instrumentation.SetSpanSuccess(span)
}

// LogoutAll invalidates every active session of a user except the one the
// request arrived on (pass "" to end them all). Returns the count ended.
func (p *ControlPlane) LogoutAll(ctx context.Context, userID, exceptSessionID string, rc RequestContext) int {
	ctx, span := p.startSpan(ctx, "authguard.logout_all", rc)
	defer instrumentation.EndSpan(span)
	instrumentation.AddAuthAttributes(span, userID, exceptSessionID, "")

	n := p.sessions.InvalidateAllForUser(userID, exceptSessionID, session.ReasonLogout)
	instrumentation.SetSpanAttributes(span, attribute.Int("auth.ended_sessions", n))
	instrumentation.SetSpanSuccess(span)
	if n == 0 {
		return 0
	}

	p.events.Append(eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Category:  eventlog.CategorySession,
		Action:    "logout_all",
		UserID:    userID,
		SessionID: exceptSessionID,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]string{"endedSessions": fmt.Sprintf("%d", n)},
	})

	if m := p.metrics(); m != nil {
		for i := 0; i < n; i++ {
			m.RecordSessionInvalidated(ctx, string(session.ReasonLogout))
		}
	}

	return n
}

// PasswordReset gates a password reset request through the composite rate
// limit and records it. Whether the email maps to an account is deliberately
// not revealed to the caller; the host sends the reset message out of band.
func (p *ControlPlane) PasswordReset(ctx context.Context, email string, rc RequestContext) error {
	ctx, span := p.startSpan(ctx, "authguard.password_reset", rc)
	defer instrumentation.EndSpan(span)
	instrumentation.AddAuthAttributes(span, "", "", ActionPasswordReset)

	if _, err := p.gate(ctx, ActionPasswordReset, rc); err != nil {
		instrumentation.RecordError(span, err)
		return err
	}

	p.events.Append(eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Category:  eventlog.CategoryAuth,
		Action:    "password_reset_requested",
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	})

	instrumentation.SetSpanSuccess(span)
	return nil
}

// AuthorizeResult is the outcome of a successful Authorize.
type AuthorizeResult struct {
	Session   session.Record
	Renewed   bool
	RateLimit ratelimit.Result
}

// Authorize guards a protected-resource access: the composite rate limit
// gates the action class, then the session is validated (renewing the access
// token when due). userActivity marks genuine user interaction; passive
// checks leave session recency untouched.
func (p *ControlPlane) Authorize(ctx context.Context, sessionID, action string, userActivity bool, rc RequestContext) (*AuthorizeResult, error) {
	if action == "" {
		action = ActionAPI
	}

	ctx, span := p.startSpan(ctx, "authguard.authorize", rc)
	defer instrumentation.EndSpan(span)
	instrumentation.AddAuthAttributes(span, "", sessionID, action)

	result, err := p.gate(ctx, action, rc)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	v := p.sessions.ValidateAndRenew(ctx, sessionID, userActivity)

	if m := p.metrics(); m != nil {
		m.RecordSessionValidation(ctx, v.Valid, string(v.Reason))
		if v.Renewed {
			m.RecordSessionRenewal(ctx, true)
		} else if v.Reason == session.ReasonRenewalFailed {
			m.RecordSessionRenewal(ctx, false)
		}
	}

	if !v.Valid {
		p.events.Append(eventlog.Entry{
			Level:     eventlog.LevelWarn,
			Category:  eventlog.CategorySession,
			Action:    "session_rejected",
			SessionID: sessionID,
			IPAddress: rc.IPAddress,
			UserAgent: rc.UserAgent,
			Metadata:  map[string]string{"reason": string(v.Reason)},
		})
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrReason, string(v.Reason)))
		instrumentation.SetSpanError(span, "session invalid")
		return nil, ErrSessionInvalid(string(v.Reason))
	}

	p.events.Append(eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Category:  eventlog.CategorySession,
		Action:    "session_validated",
		UserID:    v.Session.UserID,
		SessionID: sessionID,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	})

	instrumentation.AddAuthAttributes(span, v.Session.UserID, sessionID, action)
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrRenewed, v.Renewed))
	instrumentation.SetSpanSuccess(span)

	return &AuthorizeResult{Session: *v.Session, Renewed: v.Renewed, RateLimit: result}, nil
}

// gate runs the composite rate limit for an action: the IP key always, plus
// the fingerprint key when one can be derived. Both must pass. Actions with
// no configured policy are not limited.
func (p *ControlPlane) gate(ctx context.Context, action string, rc RequestContext) (ratelimit.Result, error) {
	limitCfg, limited := p.cfg.Actions[action]
	if !limited {
		return ratelimit.Result{Allowed: true}, nil
	}

	keys := make([]ratelimit.Key, 0, 2)
	if rc.IPAddress != "" {
		keys = append(keys, ratelimit.Key{Kind: ratelimit.KindIP, Subject: rc.IPAddress, Action: action})
	}
	if fp := rc.fingerprint(); fp != "" {
		keys = append(keys, ratelimit.Key{Kind: ratelimit.KindFingerprint, Subject: fp, Action: action})
	}
	if len(keys) == 0 {
		return ratelimit.Result{Allowed: true}, nil
	}

	result := p.limiter.CheckAll(limitCfg, keys...)

	// Annotate the enclosing operation span with the gate outcome.
	instrumentation.AddRateLimitAttributes(trace.SpanFromContext(ctx),
		keys[0].String(), result.Allowed, result.Blocked, result.Remaining)

	if m := p.metrics(); m != nil {
		m.RecordRateLimitCheck(ctx, action, result.Allowed)
	}

	if result.Allowed {
		return result, nil
	}

	if m := p.metrics(); m != nil && result.Blocked {
		m.RecordRateLimitBlock(ctx, action)
	}

	p.events.Append(eventlog.Entry{
		Level:     eventlog.LevelWarn,
		Category:  eventlog.CategoryRateLimit,
		Action:    "rate_limit_exceeded",
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]string{"action": action},
	})

	retryAfter := time.Until(result.ResetTime)
	if retryAfter < 0 {
		retryAfter = 0
	}
	secErr := ErrRateLimited(retryAfter)

	return result, secErr
}
