package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the security runtime
type Metrics struct {
	// Rate Limiting Metrics
	RateLimitChecks    metric.Int64Counter
	RateLimitBlocks    metric.Int64Counter
	RateLimitKeysCount metric.Int64ObservableGauge

	// Session Metrics
	SessionsCreated     metric.Int64Counter
	SessionValidations  metric.Int64Counter
	SessionsInvalidated metric.Int64Counter
	SessionsRenewed     metric.Int64Counter
	SessionsCount       metric.Int64ObservableGauge

	// Event Log Metrics
	EventsLogged      metric.Int64Counter
	EventRiskScore    metric.Int64Histogram
	AlertsRaised      metric.Int64Counter
	EventEntriesCount metric.Int64ObservableGauge
	AlertsCount       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	rateLimitMeter := inst.Meter("ratelimit")
	sessionMeter := inst.Meter("session")
	eventMeter := inst.Meter("eventlog")

	// Rate Limiting Metrics
	var err error
	m.RateLimitChecks, err = rateLimitMeter.Int64Counter(
		"authguard.rate_limit.checks.total",
		metric.WithDescription("Total number of rate limit checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.checks.total counter: %w", err)
	}

	m.RateLimitBlocks, err = rateLimitMeter.Int64Counter(
		"authguard.rate_limit.blocks.total",
		metric.WithDescription("Number of blocks imposed after a window limit was exceeded"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.blocks.total counter: %w", err)
	}

	m.RateLimitKeysCount, err = rateLimitMeter.Int64ObservableGauge(
		"authguard.rate_limit.keys",
		metric.WithDescription("Number of tracked rate limit keys"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.keys gauge: %w", err)
	}

	// Session Metrics
	m.SessionsCreated, err = sessionMeter.Int64Counter(
		"authguard.session.created.total",
		metric.WithDescription("Number of sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.created.total counter: %w", err)
	}

	m.SessionValidations, err = sessionMeter.Int64Counter(
		"authguard.session.validations.total",
		metric.WithDescription("Number of session validations"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.validations.total counter: %w", err)
	}

	m.SessionsInvalidated, err = sessionMeter.Int64Counter(
		"authguard.session.invalidated.total",
		metric.WithDescription("Number of sessions invalidated"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.invalidated.total counter: %w", err)
	}

	m.SessionsRenewed, err = sessionMeter.Int64Counter(
		"authguard.session.renewed.total",
		metric.WithDescription("Number of access token renewals"),
		metric.WithUnit("{renewal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.renewed.total counter: %w", err)
	}

	m.SessionsCount, err = sessionMeter.Int64ObservableGauge(
		"authguard.session.active",
		metric.WithDescription("Number of active sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.active gauge: %w", err)
	}

	// Event Log Metrics
	m.EventsLogged, err = eventMeter.Int64Counter(
		"authguard.event.logged.total",
		metric.WithDescription("Number of security events logged"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event.logged.total counter: %w", err)
	}

	m.EventRiskScore, err = eventMeter.Int64Histogram(
		"authguard.event.risk_score",
		metric.WithDescription("Risk score distribution of logged events"),
		metric.WithUnit("{score}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event.risk_score histogram: %w", err)
	}

	m.AlertsRaised, err = eventMeter.Int64Counter(
		"authguard.alert.raised.total",
		metric.WithDescription("Number of security alerts raised"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert.raised.total counter: %w", err)
	}

	m.EventEntriesCount, err = eventMeter.Int64ObservableGauge(
		"authguard.event.buffered",
		metric.WithDescription("Number of events retained in the log buffer"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event.buffered gauge: %w", err)
	}

	m.AlertsCount, err = eventMeter.Int64ObservableGauge(
		"authguard.alert.count",
		metric.WithDescription("Number of alerts retained, resolved included"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordRateLimitCheck records a rate limit check outcome
func (m *Metrics) RecordRateLimitCheck(ctx context.Context, action string, allowed bool) {
	m.RateLimitChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("allowed", allowed),
	))
}

// RecordRateLimitBlock records a block imposed after a window limit was exceeded
func (m *Metrics) RecordRateLimitBlock(ctx context.Context, action string) {
	m.RateLimitBlocks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
	))
}

// RecordSessionCreated records a session creation
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	m.SessionsCreated.Add(ctx, 1)
}

// RecordSessionValidation records a session validation outcome.
// For invalid results, reason carries the failure reason; for valid
// results it is empty.
func (m *Metrics) RecordSessionValidation(ctx context.Context, valid bool, reason string) {
	attrs := []attribute.KeyValue{
		attribute.Bool("valid", valid),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	m.SessionValidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionInvalidated records a session invalidation
func (m *Metrics) RecordSessionInvalidated(ctx context.Context, reason string) {
	m.SessionsInvalidated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordSessionRenewal records an access token renewal attempt
func (m *Metrics) RecordSessionRenewal(ctx context.Context, success bool) {
	m.SessionsRenewed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordEventLogged records a logged security event and its risk score
func (m *Metrics) RecordEventLogged(ctx context.Context, level, category string, riskScore int) {
	attrs := []attribute.KeyValue{
		attribute.String("level", level),
		attribute.String("category", category),
	}

	m.EventsLogged.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.EventRiskScore.Record(ctx, int64(riskScore), metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordAlertRaised records a raised security alert
func (m *Metrics) RecordAlertRaised(ctx context.Context, alertType, severity string) {
	m.AlertsRaised.Add(ctx, 1, metric.WithAttributes(
		attribute.String("alert_type", alertType),
		attribute.String("severity", severity),
	))
}
