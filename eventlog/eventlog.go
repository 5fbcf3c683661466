package eventlog

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nutrilog/authguard/instrumentation"
)

const (
	// DefaultMaxEntries bounds the event buffer
	DefaultMaxEntries = 10000

	// DefaultAnalysisWindow is the trailing window the detectors inspect
	DefaultAnalysisWindow = 5 * time.Minute

	// DefaultFailedLoginThreshold is the failed-login count per IP that raises an alert
	DefaultFailedLoginThreshold = 10

	// DefaultRateLimitThreshold is the rate-limit-exceeded count per IP that raises an alert
	DefaultRateLimitThreshold = 5

	// DefaultSessionAnomalyIPs is the distinct-IP count per user that raises an alert
	DefaultSessionAnomalyIPs = 2

	// riskFactorCritical is the accumulated risk total that triggers a
	// critical alert and resets the total
	riskFactorCritical = 100

	// highRiskEventScore is the single-event score that raises an immediate alert
	highRiskEventScore = 80
)

// Level classifies an event's severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Category classifies the subsystem an event originates from.
type Category string

const (
	CategoryAuth            Category = "auth"
	CategorySession         Category = "session"
	CategoryCSRF            Category = "csrf"
	CategoryRateLimit       Category = "rate_limit"
	CategoryInputValidation Category = "input_validation"
	CategoryAccessControl   Category = "access_control"
)

// Entry is one security event. Entries are never mutated after append.
type Entry struct {
	ID        string
	Timestamp time.Time
	Level     Level
	Category  Category
	Action    string
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
	Metadata  map[string]string

	// RiskScore is 0-100; derived at append time when left zero.
	RiskScore int
}

// Severity classifies an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert type constants raised by the built-in detectors.
const (
	AlertMultipleFailedLogins = "multiple_failed_logins"
	AlertRateLimitAbuse       = "rate_limit_abuse"
	AlertSessionAnomaly       = "session_anomaly"
	AlertHighRiskScore        = "high_risk_score"
	AlertHighRiskEvent        = "high_risk_event"
)

// Alert is an operator-facing signal that a detector threshold was crossed.
// The core never auto-resolves alerts; Resolved flips only via ResolveAlert.
type Alert struct {
	ID        string
	Type      string
	Severity  Severity
	Message   string
	Timestamp time.Time
	UserID    string
	IPAddress string
	Metadata  map[string]string
	Resolved  bool
}

// Thresholds configures the window detectors.
type Thresholds struct {
	// FailedLoginAttempts per IP within the window. Default: 10.
	FailedLoginAttempts int

	// RateLimitExceeded events per IP within the window. Default: 5.
	RateLimitExceeded int

	// SessionAnomalyIPs is the distinct IP count per user within the
	// window at which session activity is anomalous. Default: 2.
	SessionAnomalyIPs int
}

// Config holds event log settings.
type Config struct {
	// MaxEntries bounds the buffer. Default: 10000.
	MaxEntries int

	// AnalysisWindow is the trailing window the detectors inspect. Default: 5 minutes.
	AnalysisWindow time.Duration

	// AlertThresholds configures the window detectors.
	AlertThresholds Thresholds

	// AlertInterval throttles repeat alerts per (type, subject).
	// Default: 1 minute.
	AlertInterval time.Duration
}

func (c Config) applyDefaults(logger *slog.Logger) Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxEntries < 2 {
		logger.Warn("MaxEntries too small, using default", "max_entries", c.MaxEntries)
		c.MaxEntries = DefaultMaxEntries
	}
	if c.AnalysisWindow <= 0 {
		c.AnalysisWindow = DefaultAnalysisWindow
	}
	if c.AlertThresholds.FailedLoginAttempts <= 0 {
		c.AlertThresholds.FailedLoginAttempts = DefaultFailedLoginThreshold
	}
	if c.AlertThresholds.RateLimitExceeded <= 0 {
		c.AlertThresholds.RateLimitExceeded = DefaultRateLimitThreshold
	}
	if c.AlertThresholds.SessionAnomalyIPs <= 0 {
		c.AlertThresholds.SessionAnomalyIPs = DefaultSessionAnomalyIPs
	}
	if c.AlertInterval <= 0 {
		c.AlertInterval = time.Minute
	}
	return c
}

// Log is an append-only bounded security event log with real-time analysis.
// All methods are safe for concurrent use.
type Log struct {
	mu          sync.Mutex
	entries     []Entry
	alerts      []Alert
	riskFactors map[string]int // "ip:<addr>" / "user:<id>" -> accumulated risk

	// alertThrottles dampens repeat alerts per (type, subject)
	alertThrottles map[string]*rate.Limiter

	cfg    Config
	logger *slog.Logger

	// Instrumentation (optional)
	inst *instrumentation.Instrumentation

	// Lock-free counts for gauge callbacks
	entriesAtomic atomic.Int64
	alertsAtomic  atomic.Int64

	// Statistics
	totalAppended  int64
	totalDropped   int64
	totalAlerts    int64
	totalThrottled int64
}

// New creates an event log.
func New(cfg Config, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.applyDefaults(logger)

	return &Log{
		entries:        make([]Entry, 0, cfg.MaxEntries),
		riskFactors:    make(map[string]int),
		alertThrottles: make(map[string]*rate.Limiter),
		cfg:            cfg,
		logger:         logger,
	}
}

// SetInstrumentation wires OpenTelemetry metrics for appends and alerts.
func (l *Log) SetInstrumentation(inst *instrumentation.Instrumentation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inst = inst
}

// Append records an event, deriving its risk score when unset, and runs the
// real-time detectors against the buffer snapshot at the time of append.
// It never fails; missing optional fields degrade to zero-valued analysis
// inputs. The stored entry (with ID, timestamp, and score filled) is returned.
func (l *Log) Append(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e.RiskScore == 0 {
		e.RiskScore = riskScore(e.Level, e.Category, e.Action, l.riskFactors[ipKey(e.IPAddress)])
	}

	// Bounded ring: drop the oldest half in one batch once full. Amortized
	// O(1) per append; callers get a minimum retention window, not exact
	// retention boundaries.
	if len(l.entries) >= l.cfg.MaxEntries {
		half := len(l.entries) / 2
		kept := make([]Entry, len(l.entries)-half, l.cfg.MaxEntries)
		copy(kept, l.entries[half:])
		l.entries = kept
		l.totalDropped += int64(half)
		l.logger.Debug("Event buffer overflow, dropped oldest half",
			"dropped", half,
			"retained", len(l.entries))
	}

	// Detach from the caller's metadata map: stored entries are immutable.
	stored := e
	stored.Metadata = copyMetadata(e.Metadata)
	l.entries = append(l.entries, stored)
	l.entriesAtomic.Store(int64(len(l.entries)))
	l.totalAppended++

	l.accumulateRisk(e)
	l.detectHighRiskEvent(e)
	l.analyzeWindow(e)

	if l.inst != nil {
		l.inst.Metrics().RecordEventLogged(context.Background(), string(e.Level), string(e.Category), e.RiskScore)
	}

	return e
}

// accumulateRisk adds the event's score to the per-IP and per-user running
// totals. A total reaching the critical threshold raises a critical alert and
// resets that total only; the totals never decay otherwise.
func (l *Log) accumulateRisk(e Entry) {
	for _, key := range []string{ipKey(e.IPAddress), userKey(e.UserID)} {
		if key == "" {
			continue
		}
		l.riskFactors[key] += e.RiskScore
		if l.riskFactors[key] >= riskFactorCritical {
			total := l.riskFactors[key]
			l.riskFactors[key] = 0
			// Never throttled: the reset discards the accumulated evidence,
			// so every threshold crossing must surface its own alert.
			l.appendAlertLocked(Alert{
				Type:      AlertHighRiskScore,
				Severity:  SeverityCritical,
				Message:   "accumulated risk score crossed the critical threshold for " + key,
				UserID:    e.UserID,
				IPAddress: e.IPAddress,
				Metadata: map[string]string{
					"subject":   key,
					"riskTotal": strconv.Itoa(total),
				},
			})
		}
	}
}

// detectHighRiskEvent raises an immediate alert for a single critical or
// high-scoring event, independent of the window detectors.
func (l *Log) detectHighRiskEvent(e Entry) {
	if e.Level != LevelCritical && e.RiskScore < highRiskEventScore {
		return
	}
	l.raiseAlert(Alert{
		Type:      AlertHighRiskEvent,
		Severity:  SeverityHigh,
		Message:   "high risk event: " + e.Action,
		UserID:    e.UserID,
		IPAddress: e.IPAddress,
		Metadata: map[string]string{
			"action":    e.Action,
			"level":     string(e.Level),
			"riskScore": strconv.Itoa(e.RiskScore),
		},
	}, subjectOf(e))
}

// analyzeWindow runs the three window detectors against the trailing
// analysis window, evaluated at the moment of this append.
func (l *Log) analyzeWindow(e Entry) {
	cutoff := e.Timestamp.Add(-l.cfg.AnalysisWindow)

	if e.IPAddress != "" {
		if isFailedLogin(e) {
			count := 0
			for i := len(l.entries) - 1; i >= 0; i-- {
				prior := l.entries[i]
				if prior.Timestamp.Before(cutoff) {
					break
				}
				if prior.IPAddress == e.IPAddress && isFailedLogin(prior) {
					count++
				}
			}
			// Fire exactly on crossing so a sustained burst raises one
			// alert per window, not one per append.
			if count == l.cfg.AlertThresholds.FailedLoginAttempts {
				l.raiseAlert(Alert{
					Type:      AlertMultipleFailedLogins,
					Severity:  SeverityHigh,
					Message:   "repeated failed logins from " + e.IPAddress,
					UserID:    e.UserID,
					IPAddress: e.IPAddress,
					Metadata: map[string]string{
						"attemptCount": strconv.Itoa(count),
					},
				}, ipKey(e.IPAddress))
			}
		}

		if isRateLimitExceeded(e) {
			count := 0
			for i := len(l.entries) - 1; i >= 0; i-- {
				prior := l.entries[i]
				if prior.Timestamp.Before(cutoff) {
					break
				}
				if prior.IPAddress == e.IPAddress && isRateLimitExceeded(prior) {
					count++
				}
			}
			if count == l.cfg.AlertThresholds.RateLimitExceeded {
				l.raiseAlert(Alert{
					Type:      AlertRateLimitAbuse,
					Severity:  SeverityMedium,
					Message:   "sustained rate limit abuse from " + e.IPAddress,
					UserID:    e.UserID,
					IPAddress: e.IPAddress,
					Metadata: map[string]string{
						"exceededCount": strconv.Itoa(count),
					},
				}, ipKey(e.IPAddress))
			}
		}
	}

	if e.Category == CategorySession && e.UserID != "" && e.IPAddress != "" {
		distinct := map[string]struct{}{e.IPAddress: {}}
		priorIPs := make([]string, 0, 4)
		for i := len(l.entries) - 1; i >= 0; i-- {
			prior := l.entries[i]
			if prior.Timestamp.Before(cutoff) {
				break
			}
			if prior.Category != CategorySession || prior.UserID != e.UserID || prior.IPAddress == "" {
				continue
			}
			if _, seen := distinct[prior.IPAddress]; !seen {
				distinct[prior.IPAddress] = struct{}{}
				priorIPs = append(priorIPs, prior.IPAddress)
			}
		}
		if len(distinct) >= l.cfg.AlertThresholds.SessionAnomalyIPs {
			l.raiseAlert(Alert{
				Type:      AlertSessionAnomaly,
				Severity:  SeverityMedium,
				Message:   "session activity for one user from multiple IPs",
				UserID:    e.UserID,
				IPAddress: e.IPAddress,
				Metadata: map[string]string{
					"distinctIPs": strconv.Itoa(len(distinct)),
					"priorIPs":    strings.Join(priorIPs, ","),
				},
			}, userKey(e.UserID))
		}
	}
}

// raiseAlert appends an alert unless the per-(type, subject) throttle
// suppresses it. Must be called with the lock held.
func (l *Log) raiseAlert(a Alert, subject string) {
	throttleKey := a.Type + "|" + subject
	lim, ok := l.alertThrottles[throttleKey]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.cfg.AlertInterval), 1)
		l.alertThrottles[throttleKey] = lim
	}
	if !lim.Allow() {
		l.totalThrottled++
		l.logger.Debug("Alert suppressed by throttle",
			"type", a.Type,
			"subject", subject)
		return
	}

	l.appendAlertLocked(a)
}

// appendAlertLocked records an alert unconditionally, bypassing the throttle.
// Must be called with the lock held.
func (l *Log) appendAlertLocked(a Alert) {
	a.ID = uuid.NewString()
	a.Timestamp = time.Now()
	l.alerts = append(l.alerts, a)
	l.alertsAtomic.Store(int64(len(l.alerts)))
	l.totalAlerts++

	l.logger.Warn("Security alert raised",
		"alert_type", a.Type,
		"severity", string(a.Severity),
		"user_id", a.UserID,
		"ip_address", a.IPAddress,
		"message", a.Message)

	if l.inst != nil {
		l.inst.Metrics().RecordAlertRaised(context.Background(), a.Type, string(a.Severity))
	}
}

// ResolveAlert marks an alert resolved. This is the only path that mutates an
// alert; the core never auto-resolves. Returns false for unknown IDs.
func (l *Log) ResolveAlert(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.alerts {
		if l.alerts[i].ID == id {
			l.alerts[i].Resolved = true
			return true
		}
	}
	return false
}

// RiskFactor returns the current accumulated risk total for a subject key
// such as "ip:1.2.3.4" or "user:42".
func (l *Log) RiskFactor(subject string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.riskFactors[subject]
}

// EntryCount returns the buffered entry count without taking the lock.
// Intended for observable gauge callbacks.
func (l *Log) EntryCount() int64 {
	return l.entriesAtomic.Load()
}

// AlertCount returns the alert count without taking the lock.
// Intended for observable gauge callbacks.
func (l *Log) AlertCount() int64 {
	return l.alertsAtomic.Load()
}

// Stats holds event log statistics for monitoring.
type Stats struct {
	BufferedEntries int   // Entries currently retained
	Alerts          int   // Alerts retained (resolved included)
	TotalAppended   int64 // Events appended since start
	TotalDropped    int64 // Events dropped by overflow batches
	TotalAlerts     int64 // Alerts raised
	TotalThrottled  int64 // Alerts suppressed by the throttle
}

// GetStats returns current log statistics for monitoring and alerting.
func (l *Log) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		BufferedEntries: len(l.entries),
		Alerts:          len(l.alerts),
		TotalAppended:   l.totalAppended,
		TotalDropped:    l.totalDropped,
		TotalAlerts:     l.totalAlerts,
		TotalThrottled:  l.totalThrottled,
	}
}

func isFailedLogin(e Entry) bool {
	return e.Category == CategoryAuth && strings.Contains(e.Action, "failed")
}

func isRateLimitExceeded(e Entry) bool {
	return e.Category == CategoryRateLimit && strings.Contains(e.Action, "exceeded")
}

func ipKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "ip:" + ip
}

func userKey(userID string) string {
	if userID == "" {
		return ""
	}
	return "user:" + userID
}

func subjectOf(e Entry) string {
	if e.IPAddress != "" {
		return ipKey(e.IPAddress)
	}
	return userKey(e.UserID)
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
