package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweep goroutine removes expired entries
	DefaultSweepInterval = time.Minute

	// DefaultWindow is the counting window applied when a Config leaves it zero
	DefaultWindow = time.Minute

	// DefaultMaxRequests is the per-window request budget applied when a Config leaves it zero
	DefaultMaxRequests = 60
)

// SubjectKind identifies what a rate-limit subject represents.
type SubjectKind string

const (
	// KindIP keys the limit on a client IP address
	KindIP SubjectKind = "ip"

	// KindUser keys the limit on an authenticated user ID
	KindUser SubjectKind = "user"

	// KindFingerprint keys the limit on a user-agent-derived fingerprint
	KindFingerprint SubjectKind = "fingerprint"
)

// Key is the composite identity of a rate-limit record.
type Key struct {
	Kind    SubjectKind
	Subject string
	Action  string
}

// String returns the key in "kind:subject:action" form for logging.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.Subject, k.Action)
}

// Config holds the limits applied to a single Check call.
type Config struct {
	// Window is the fixed counting window. Default: 1 minute.
	Window time.Duration

	// MaxRequests is the number of allowed calls per window. Default: 60.
	MaxRequests int

	// BlockDuration is how long a key stays blocked after exhausting its
	// window. Default: 2×Window.
	BlockDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = 2 * c.Window
	}
	return c
}

// Result is the outcome of a Check call.
type Result struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// Remaining is the quota left in the current window.
	Remaining int

	// ResetTime is when the current window resets, or when the block
	// lifts if Blocked is true. Retry-After derives from this.
	ResetTime time.Time

	// Blocked reports whether the key is serving a block period.
	Blocked bool
}

// record tracks one (kind, subject, action) key.
// count is only meaningful while now < windowResetAt; once blocked the count
// is frozen and blockedUntil alone governs unblocking.
type record struct {
	count         int
	windowResetAt time.Time
	blocked       bool
	blockedUntil  time.Time
}

// Limiter implements fixed-window counting with escalating blocks per key.
// All methods are safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	records map[Key]*record

	logger        *slog.Logger
	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once

	// Lock-free entry count for gauge callbacks
	entriesAtomic atomic.Int64

	// Statistics
	totalAllowed int64
	totalDenied  int64
	totalBlocks  int64
	totalSweeps  int64
}

// New creates a limiter with the default sweep interval (60s).
func New(logger *slog.Logger) *Limiter {
	return NewWithSweepInterval(DefaultSweepInterval, logger)
}

// NewWithSweepInterval creates a limiter with a custom sweep interval.
// If sweepInterval is zero or negative, the default of 60s is used.
func NewWithSweepInterval(sweepInterval time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
		logger.Warn("Invalid sweep interval, using default", "sweep_interval", sweepInterval)
	}

	l := &Limiter{
		records:       make(map[Key]*record),
		logger:        logger,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
	}

	// Start background sweep goroutine
	go l.sweepLoop()

	return l
}

// Check applies the fixed-window algorithm to key and reports whether the
// call is allowed. It never fails; denial is an expected result value.
func (l *Limiter) Check(key Key, cfg Config) Result {
	cfg = cfg.withDefaults()
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, tracked := l.records[key]
	live := tracked

	if tracked && rec.blocked {
		if now.After(rec.blockedUntil) {
			// Block lapsed naturally; a fresh window starts below.
			live = false
		} else {
			l.totalDenied++
			return Result{
				Allowed:   false,
				Remaining: 0,
				ResetTime: rec.blockedUntil,
				Blocked:   true,
			}
		}
	}

	if !live || now.After(rec.windowResetAt) {
		fresh := &record{
			count:         1,
			windowResetAt: now.Add(cfg.Window),
		}
		l.records[key] = fresh
		if !tracked {
			l.entriesAtomic.Add(1)
		}
		l.totalAllowed++
		return Result{
			Allowed:   true,
			Remaining: cfg.MaxRequests - 1,
			ResetTime: fresh.windowResetAt,
		}
	}

	if rec.count >= cfg.MaxRequests {
		rec.blocked = true
		rec.blockedUntil = now.Add(cfg.BlockDuration)
		l.totalBlocks++
		l.totalDenied++
		l.logger.Warn("Rate limit exceeded, key blocked",
			"key", key.String(),
			"count", rec.count,
			"max_requests", cfg.MaxRequests,
			"blocked_until", rec.blockedUntil)
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetTime: rec.blockedUntil,
			Blocked:   true,
		}
	}

	rec.count++
	l.totalAllowed++
	return Result{
		Allowed:   true,
		Remaining: cfg.MaxRequests - rec.count,
		ResetTime: rec.windowResetAt,
	}
}

// CheckAll evaluates several keys for the same logical action under one
// config and allows the call only if every key passes. The first failing
// check short-circuits; its Result is returned so callers can derive
// Retry-After from the most restrictive key. Checking both an IP-derived and
// a fingerprint-derived key defeats trivial IP-rotation bypass.
func (l *Limiter) CheckAll(cfg Config, keys ...Key) Result {
	res := Result{Allowed: true, Remaining: cfg.withDefaults().MaxRequests}
	for _, key := range keys {
		r := l.Check(key, cfg)
		if !r.Allowed {
			return r
		}
		if r.Remaining < res.Remaining {
			res = r
		}
	}
	return res
}

// sweepLoop periodically removes expired entries to bound memory.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopSweep:
			return
		}
	}
}

// Sweep removes entries whose window and any block have both expired.
// It runs under the same lock as Check and is safe to invoke concurrently
// with foreground calls.
func (l *Limiter) Sweep() {
	now := time.Now()
	removed := 0

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, rec := range l.records {
		if now.After(rec.windowResetAt) && (!rec.blocked || now.After(rec.blockedUntil)) {
			delete(l.records, key)
			removed++
		}
	}

	if removed > 0 {
		l.entriesAtomic.Add(int64(-removed))
		l.totalSweeps++
		l.logger.Debug("Rate limiter sweep completed",
			"removed", removed,
			"remaining", len(l.records),
			"total_sweeps", l.totalSweeps)
	}
}

// Stop gracefully stops the sweep goroutine.
// Safe to call multiple times concurrently.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
		l.logger.Debug("Rate limiter stopped")
	})
}

// Size returns the number of tracked keys without taking the lock.
// Intended for observable gauge callbacks.
func (l *Limiter) Size() int64 {
	return l.entriesAtomic.Load()
}

// Stats holds rate limiter statistics for monitoring.
type Stats struct {
	CurrentEntries int   // Current number of tracked keys
	TotalAllowed   int64 // Total calls allowed
	TotalDenied    int64 // Total calls denied (blocked keys included)
	TotalBlocks    int64 // Total block transitions
	TotalSweeps    int64 // Total sweep operations that removed entries
}

// GetStats returns current limiter statistics for monitoring and alerting.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		CurrentEntries: len(l.records),
		TotalAllowed:   l.totalAllowed,
		TotalDenied:    l.totalDenied,
		TotalBlocks:    l.totalBlocks,
		TotalSweeps:    l.totalSweeps,
	}
}
