// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the authguard library.
//
// This package enables observability across all runtime layers through:
// - Metrics: Counters, histograms, and gauges for rate limiting, sessions, and events
// - Traces: Distributed tracing for request flows across components
//
// # Quick Start
//
// Enable instrumentation and hand it to the control plane:
//
//	import "github.com/nutrilog/authguard/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "nutrilog-api",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	plane.SetInstrumentation(inst)
//
// # Available Metrics
//
// Rate Limiting:
//   - authguard.rate_limit.checks.total{action, allowed} - Rate limit checks
//   - authguard.rate_limit.blocks.total{action} - Blocks imposed
//   - authguard.rate_limit.keys - Tracked keys (gauge)
//
// Sessions:
//   - authguard.session.created.total - Sessions created
//   - authguard.session.validations.total{valid, reason} - Validations
//   - authguard.session.invalidated.total{reason} - Invalidations
//   - authguard.session.renewed.total{success} - Access token renewals
//   - authguard.session.active - Active sessions (gauge)
//
// Event Log:
//   - authguard.event.logged.total{level, category} - Events logged
//   - authguard.event.risk_score{category} - Risk score distribution
//   - authguard.alert.raised.total{alert_type, severity} - Alerts raised
//   - authguard.event.buffered - Retained event buffer size (gauge)
//   - authguard.alert.count - Retained alerts (gauge)
//
// # Performance
//
// When instrumentation is not configured or disabled:
//   - Zero overhead (uses no-op providers)
//   - No allocations or latency impact
//
// # Thread Safety
//
// All instrumentation operations are thread-safe and can be called concurrently
// from multiple goroutines.
//
// # Security Considerations
//
// IMPORTANT: This package is designed to collect observability data, not
// sensitive credentials.
//
// When instrumenting authentication flows, you MUST:
//   - NEVER log actual token values (access tokens, refresh tokens, passwords)
//   - ONLY log metadata (session IDs, expiry times, reasons, validation results)
//
// Data collected in traces and metrics may be persisted for extended periods,
// accessible to wider audiences than production systems, and subject to
// compliance requirements (GDPR, PCI-DSS, SOC 2, etc.).
//
// Privacy considerations:
//   - Client IP addresses may be considered PII in some jurisdictions; the
//     LogClientIPs configuration controls whether they are attached to spans
//   - User IDs may be subject to privacy regulations
//   - Configure appropriate retention policies and access controls
package instrumentation
