package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nutrilog/authguard/internal/util"
)

const (
	// sessionIDLogLength is the number of characters of a session ID to include in logs
	sessionIDLogLength = 8

	// DefaultSweepInterval is how often the sweep goroutine purges dead sessions
	DefaultSweepInterval = time.Minute
)

// Reason explains why a session was invalidated or failed validation.
// The host maps these to machine-readable 401 error codes.
type Reason string

const (
	ReasonSessionNotFound Reason = "session_not_found"
	ReasonAbsoluteExpiry  Reason = "absolute_expiry"
	ReasonInactivity      Reason = "inactivity"
	ReasonRefreshExpired  Reason = "refresh_expired"
	ReasonRenewalFailed   Reason = "renewal_failed"
	ReasonLogout          Reason = "logout"
	ReasonSessionLimit    Reason = "session_limit"
	ReasonSweep           Reason = "sweep"
)

// Record is one active or recently deactivated session.
type Record struct {
	ID                 string
	UserID             string
	AccessToken        string
	RefreshToken       string
	AccessTokenExpiry  time.Time
	RefreshTokenExpiry time.Time
	AbsoluteExpiry     time.Time
	CreatedAt          time.Time
	LastActivity       time.Time
	DeviceID           string
	UserAgent          string
	IPAddress          string
	Active             bool
	Metadata           map[string]string
}

// Config holds session lifetime policy.
// The expiry fields must satisfy AccessTokenTTL ≤ RefreshTokenTTL ≤ AbsoluteTTL;
// applyDefaults clamps violations upward and warns.
type Config struct {
	// AccessTokenTTL is how long a newly issued access token is valid. Default: 15 minutes.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long renewals remain possible. Default: 7 days.
	RefreshTokenTTL time.Duration

	// AbsoluteTTL is the hard maximum session age, unaffected by renewals
	// or activity. Default: 30 days.
	AbsoluteTTL time.Duration

	// InactivityTimeout is the maximum allowed gap between activities. Default: 30 minutes.
	InactivityTimeout time.Duration

	// RenewalWindow is the interval before access-token expiry during which
	// validation proactively renews. Default: 2 minutes.
	RenewalWindow time.Duration

	// MaxConcurrentSessions caps active sessions per user; the least
	// recently active session is evicted on overflow. Default: 5.
	MaxConcurrentSessions int

	// SweepInterval is how often dead sessions are purged. Default: 1 minute.
	SweepInterval time.Duration
}

func (c Config) applyDefaults(logger *slog.Logger) Config {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.AbsoluteTTL <= 0 {
		c.AbsoluteTTL = 30 * 24 * time.Hour
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 30 * time.Minute
	}
	if c.RenewalWindow <= 0 {
		c.RenewalWindow = 2 * time.Minute
	}
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 5
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		logger.Warn("RefreshTokenTTL below AccessTokenTTL, clamping",
			"refresh_token_ttl", c.RefreshTokenTTL,
			"access_token_ttl", c.AccessTokenTTL)
		c.RefreshTokenTTL = c.AccessTokenTTL
	}
	if c.AbsoluteTTL < c.RefreshTokenTTL {
		logger.Warn("AbsoluteTTL below RefreshTokenTTL, clamping",
			"absolute_ttl", c.AbsoluteTTL,
			"refresh_token_ttl", c.RefreshTokenTTL)
		c.AbsoluteTTL = c.RefreshTokenTTL
	}
	return c
}

// RenewFunc mints a replacement access token for a session during renewal.
// A non-empty refreshToken return rotates the session's refresh token and
// extends its expiry; an empty one keeps the current refresh token.
// It runs under the store's lock and must not block; wire network-backed
// renewers through a caller-side cache or keep them in-memory.
type RenewFunc func(ctx context.Context, rec Record) (accessToken, refreshToken string, err error)

// ValidationResult is the outcome of ValidateAndRenew.
type ValidationResult struct {
	// Valid reports whether the session may be used.
	Valid bool

	// Session is a copy of the record when Valid is true.
	Session *Record

	// Renewed reports whether a new access token was issued during this call.
	Renewed bool

	// Reason is set when Valid is false.
	Reason Reason
}

// CreateParams carries the inputs for Create.
type CreateParams struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	DeviceID     string
	UserAgent    string
	IPAddress    string
	Metadata     map[string]string
}

// Store is an in-memory session store.
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Record            // session ID -> record
	byUser   map[string]map[string]struct{} // user ID -> active session IDs

	cfg    Config
	renew  RenewFunc
	logger *slog.Logger

	stopSweep chan struct{}
	stopOnce  sync.Once

	// Lock-free active count for gauge callbacks
	activeAtomic atomic.Int64

	// Statistics
	totalCreated     int64
	totalInvalidated int64
	totalRenewals    int64
	totalEvictions   int64
	totalSweeps      int64
}

// NewStore creates a session store and starts its sweep goroutine.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.applyDefaults(logger)

	s := &Store{
		sessions:  make(map[string]*Record),
		byUser:    make(map[string]map[string]struct{}),
		cfg:       cfg,
		logger:    logger,
		stopSweep: make(chan struct{}),
	}
	s.renew = s.mintOpaqueToken

	go s.sweepLoop()

	return s
}

// SetRenewFunc replaces the access-token renewal hook. Passing nil restores
// the built-in opaque token mint. Call before the store is shared.
func (s *Store) SetRenewFunc(fn RenewFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = s.mintOpaqueToken
	}
	s.renew = fn
}

// mintOpaqueToken is the default RenewFunc when no identity provider is wired in.
func (s *Store) mintOpaqueToken(_ context.Context, _ Record) (string, string, error) {
	return uuid.NewString(), "", nil
}

// Create registers a new session for a user. If the user already holds
// MaxConcurrentSessions active sessions, the least recently active one is
// invalidated with reason "session_limit" before the new one is created.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Record, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}
	if p.AccessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Enforce the per-user concurrency limit before insertion.
	if ids := s.byUser[p.UserID]; len(ids) >= s.cfg.MaxConcurrentSessions {
		victim := s.leastRecentlyActiveLocked(ids)
		if victim != "" {
			s.invalidateLocked(victim, ReasonSessionLimit)
			s.totalEvictions++
			s.logger.Info("Evicted session over concurrency limit",
				"user_id", p.UserID,
				"session_id", util.SafeTruncate(victim, sessionIDLogLength),
				"max_concurrent", s.cfg.MaxConcurrentSessions)
		}
	}

	rec := &Record{
		ID:                 uuid.NewString(),
		UserID:             p.UserID,
		AccessToken:        p.AccessToken,
		RefreshToken:       p.RefreshToken,
		AccessTokenExpiry:  now.Add(s.cfg.AccessTokenTTL),
		RefreshTokenExpiry: now.Add(s.cfg.RefreshTokenTTL),
		AbsoluteExpiry:     now.Add(s.cfg.AbsoluteTTL),
		CreatedAt:          now,
		LastActivity:       now,
		DeviceID:           p.DeviceID,
		UserAgent:          p.UserAgent,
		IPAddress:          p.IPAddress,
		Active:             true,
		Metadata:           copyMetadata(p.Metadata),
	}

	s.sessions[rec.ID] = rec
	ids, ok := s.byUser[p.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[p.UserID] = ids
	}
	ids[rec.ID] = struct{}{}

	s.activeAtomic.Add(1)
	s.totalCreated++
	s.logger.Debug("Created session",
		"user_id", p.UserID,
		"session_id", util.SafeTruncate(rec.ID, sessionIDLogLength),
		"device_id", p.DeviceID)

	out := copyRecord(rec)
	return &out, nil
}

// ValidateAndRenew validates a session against every expiry policy in order,
// invalidating it on the first violation. When the access token has expired
// (but the refresh token has not) or lies inside the renewal window, a new
// access token is issued via the configured RenewFunc.
//
// When userActivity is true and the session remains valid, LastActivity
// advances to now. Passive checks (userActivity=false) deliberately leave
// recency untouched, so such sessions rank first for concurrency eviction.
func (s *Store) ValidateAndRenew(ctx context.Context, sessionID string, userActivity bool) ValidationResult {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok || !rec.Active {
		return ValidationResult{Valid: false, Reason: ReasonSessionNotFound}
	}

	// Hard ceiling: no amount of activity extends the absolute expiry.
	if now.After(rec.AbsoluteExpiry) {
		s.invalidateLocked(sessionID, ReasonAbsoluteExpiry)
		return ValidationResult{Valid: false, Reason: ReasonAbsoluteExpiry}
	}

	if now.After(rec.LastActivity.Add(s.cfg.InactivityTimeout)) {
		s.invalidateLocked(sessionID, ReasonInactivity)
		return ValidationResult{Valid: false, Reason: ReasonInactivity}
	}

	renewed := false
	if now.After(rec.AccessTokenExpiry) {
		if now.After(rec.RefreshTokenExpiry) {
			s.invalidateLocked(sessionID, ReasonRefreshExpired)
			return ValidationResult{Valid: false, Reason: ReasonRefreshExpired}
		}
		access, refresh, err := s.renew(ctx, *rec)
		if err != nil {
			s.logger.Warn("Session renewal failed",
				"session_id", util.SafeTruncate(sessionID, sessionIDLogLength),
				"error", err)
			s.invalidateLocked(sessionID, ReasonRenewalFailed)
			return ValidationResult{Valid: false, Reason: ReasonRenewalFailed}
		}
		s.applyRenewalLocked(rec, access, refresh, now)
		renewed = true
	} else if now.After(rec.AccessTokenExpiry.Add(-s.cfg.RenewalWindow)) {
		// Proactive renewal zone: a renewal error here does not fail the
		// validation, the pre-renewal session is still valid.
		access, refresh, err := s.renew(ctx, *rec)
		if err != nil {
			s.logger.Debug("Proactive renewal failed, keeping current token",
				"session_id", util.SafeTruncate(sessionID, sessionIDLogLength),
				"error", err)
		} else {
			s.applyRenewalLocked(rec, access, refresh, now)
			renewed = true
		}
	}

	if userActivity && now.After(rec.LastActivity) {
		rec.LastActivity = now
	}

	out := copyRecord(rec)
	return ValidationResult{Valid: true, Session: &out, Renewed: renewed}
}

// applyRenewalLocked installs a freshly minted token pair. A rotated refresh
// token slides the refresh expiry forward; both expiries are clamped to the
// absolute expiry so the record keeps the
// accessTokenExpiry ≤ refreshTokenExpiry ≤ absoluteExpiry ordering near the
// end of the session's life.
func (s *Store) applyRenewalLocked(rec *Record, accessToken, refreshToken string, now time.Time) {
	rec.AccessToken = accessToken
	rec.AccessTokenExpiry = now.Add(s.cfg.AccessTokenTTL)
	if rec.AccessTokenExpiry.After(rec.AbsoluteExpiry) {
		rec.AccessTokenExpiry = rec.AbsoluteExpiry
	}
	if refreshToken != "" {
		rec.RefreshToken = refreshToken
		rec.RefreshTokenExpiry = now.Add(s.cfg.RefreshTokenTTL)
		if rec.RefreshTokenExpiry.After(rec.AbsoluteExpiry) {
			rec.RefreshTokenExpiry = rec.AbsoluteExpiry
		}
	}
	s.totalRenewals++
}

// Invalidate deactivates a session and drops it from the user index.
// It is idempotent: a second call for the same ID is a no-op returning false.
func (s *Store) Invalidate(sessionID string, reason Reason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidateLocked(sessionID, reason)
}

// invalidateLocked flips a session to inactive. Must be called with the lock held.
// Inactive is absorbing: the record stays in the map until the sweep purges it,
// but no operation ever revives it.
func (s *Store) invalidateLocked(sessionID string, reason Reason) bool {
	rec, ok := s.sessions[sessionID]
	if !ok || !rec.Active {
		return false
	}

	rec.Active = false
	if ids, ok := s.byUser[rec.UserID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(s.byUser, rec.UserID)
		}
	}

	s.activeAtomic.Add(-1)
	s.totalInvalidated++
	s.logger.Debug("Invalidated session",
		"user_id", rec.UserID,
		"session_id", util.SafeTruncate(sessionID, sessionIDLogLength),
		"reason", string(reason))
	return true
}

// InvalidateAllForUser invalidates every active session for a user except the
// optionally excluded one. Returns the number invalidated.
func (s *Store) InvalidateAllForUser(userID string, exceptSessionID string, reason Reason) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.byUser[userID]
	if !ok {
		return 0
	}

	// Collect first: invalidateLocked mutates the index set.
	targets := make([]string, 0, len(ids))
	for id := range ids {
		if id != exceptSessionID {
			targets = append(targets, id)
		}
	}

	count := 0
	for _, id := range targets {
		if s.invalidateLocked(id, reason) {
			count++
		}
	}
	return count
}

// ActiveSessions returns copies of a user's active sessions sorted by
// LastActivity descending (most recently active first).
func (s *Store) ActiveSessions(userID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]Record, 0, len(ids))
	for id := range ids {
		if rec, ok := s.sessions[id]; ok && rec.Active {
			out = append(out, copyRecord(rec))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Get returns a copy of a session record, active or not.
func (s *Store) Get(sessionID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

// leastRecentlyActiveLocked picks the eviction victim among a user's active
// sessions. Must be called with the lock held.
func (s *Store) leastRecentlyActiveLocked(ids map[string]struct{}) string {
	var victim string
	var oldest time.Time
	for id := range ids {
		rec, ok := s.sessions[id]
		if !ok || !rec.Active {
			continue
		}
		if victim == "" || rec.LastActivity.Before(oldest) {
			victim = id
			oldest = rec.LastActivity
		}
	}
	return victim
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopSweep:
			return
		}
	}
}

// Sweep purges deactivated records and force-expires sessions that blew past
// their absolute expiry, refresh expiry, or inactivity timeout without anyone
// revalidating them.
func (s *Store) Sweep() {
	now := time.Now()
	purged := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.sessions {
		if rec.Active {
			expired := now.After(rec.AbsoluteExpiry) ||
				now.After(rec.RefreshTokenExpiry) ||
				now.After(rec.LastActivity.Add(s.cfg.InactivityTimeout))
			if !expired {
				continue
			}
			s.invalidateLocked(id, ReasonSweep)
		}
		delete(s.sessions, id)
		purged++
	}

	if purged > 0 {
		s.totalSweeps++
		s.logger.Debug("Session sweep completed",
			"purged", purged,
			"remaining", len(s.sessions),
			"total_sweeps", s.totalSweeps)
	}
}

// Stop gracefully stops the sweep goroutine.
// Safe to call multiple times concurrently.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
		s.logger.Debug("Session store stopped")
	})
}

// Size returns the number of active sessions without taking the lock.
// Intended for observable gauge callbacks.
func (s *Store) Size() int64 {
	return s.activeAtomic.Load()
}

// Stats holds session store statistics for monitoring.
type Stats struct {
	ActiveSessions   int   // Sessions currently active
	TrackedSessions  int   // All records still held, active or not
	TotalCreated     int64 // Sessions created since start
	TotalInvalidated int64 // Sessions invalidated for any reason
	TotalRenewals    int64 // Access-token renewals performed
	TotalEvictions   int64 // Concurrency-limit evictions
	TotalSweeps      int64 // Sweep operations that purged records
}

// GetStats returns current store statistics for monitoring and alerting.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := 0
	for _, rec := range s.sessions {
		if rec.Active {
			active++
		}
	}

	return Stats{
		ActiveSessions:   active,
		TrackedSessions:  len(s.sessions),
		TotalCreated:     s.totalCreated,
		TotalInvalidated: s.totalInvalidated,
		TotalRenewals:    s.totalRenewals,
		TotalEvictions:   s.totalEvictions,
		TotalSweeps:      s.totalSweeps,
	}
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.Metadata = copyMetadata(rec.Metadata)
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
