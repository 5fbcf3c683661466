package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never log actual sensitive values (access tokens, refresh
// tokens, passwords, raw fingerprint inputs) in traces or metrics. Only log
// metadata such as session IDs, expiry times, reasons, and validation results.
// Traces are often persisted for extended periods, accessible to wider
// audiences than production systems, and subject to compliance requirements.
const (
	// Identity attributes - SAFE to use for metadata only
	AttrUserID      = "auth.user_id"     // User identifier (non-secret)
	AttrSessionID   = "auth.session_id"  // Session identifier (non-secret)
	AttrAction      = "auth.action"      // Guarded action (login, password_reset, api)
	AttrFingerprint = "auth.fingerprint" // Hashed device fingerprint - NOT raw input
	AttrReason      = "auth.reason"      // Validation or invalidation reason
	AttrRenewed     = "auth.renewed"     // Whether the access token was renewed (boolean)

	// Rate limit attributes
	AttrRateLimitKey       = "rate_limit.key"
	AttrRateLimitAllowed   = "rate_limit.allowed"
	AttrRateLimitRemaining = "rate_limit.remaining"
	AttrRateLimitBlocked   = "rate_limit.blocked"

	// Event log attributes
	AttrEventLevel    = "event.level"
	AttrEventCategory = "event.category"
	AttrEventRisk     = "event.risk_score"
	AttrAlertType     = "alert.type"
	AttrAlertSeverity = "alert.severity"

	// Security attributes
	AttrClientIP = "security.client_ip"
)

// EndSpan ends a span (nil-safe)
func EndSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddAuthAttributes adds common authentication flow attributes to a span (nil-safe)
func AddAuthAttributes(span trace.Span, userID, sessionID, action string) {
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if sessionID != "" {
		SetSpanAttributes(span, attribute.String(AttrSessionID, sessionID))
	}
	if action != "" {
		SetSpanAttributes(span, attribute.String(AttrAction, action))
	}
}

// AddRateLimitAttributes adds rate limit check attributes to a span (nil-safe)
func AddRateLimitAttributes(span trace.Span, key string, allowed, blocked bool, remaining int) {
	SetSpanAttributes(span,
		attribute.String(AttrRateLimitKey, key),
		attribute.Bool(AttrRateLimitAllowed, allowed),
		attribute.Bool(AttrRateLimitBlocked, blocked),
		attribute.Int(AttrRateLimitRemaining, remaining),
	)
}

// AddEventAttributes adds security event attributes to a span (nil-safe)
func AddEventAttributes(span trace.Span, level, category string, riskScore int) {
	SetSpanAttributes(span,
		attribute.String(AttrEventLevel, level),
		attribute.String(AttrEventCategory, category),
		attribute.Int(AttrEventRisk, riskScore),
	)
}

// AddSecurityAttributes adds security-related attributes to a span (nil-safe)
//
// PRIVACY NOTE: Client IP addresses may be considered Personally Identifiable
// Information (PII). Before calling this function, check if IP logging is
// enabled using instrumentation.ShouldLogClientIPs().
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
