// Package eventlog provides an append-only, bounded log of structured
// security events with real-time abuse analysis.
//
// Every appended event receives a risk score (0-100) derived from its level,
// category, action keywords, and the accumulated risk of its source IP. Three
// detectors then run against a trailing five-minute window of the buffer:
// repeated authentication failures per IP, rate-limit abuse per IP, and
// session activity for one user from multiple IPs. Each detector raises a
// typed Alert when its threshold is crossed.
//
// Independently, every event's score feeds per-IP and per-user running risk
// totals. A total reaching 100 raises a critical alert and resets that total
// to zero; totals never decay otherwise. Any single critical-level or
// score>=80 event raises an immediate high-risk alert regardless of window
// state.
//
// The log never fails an append and never disrupts the triggering request:
// detected abuse surfaces only as Alert records for an operator-facing
// channel. The buffer is a bounded ring; on overflow the oldest half is
// dropped in one batch, so callers may rely on a minimum retention window
// but not on exact retention boundaries.
package eventlog
