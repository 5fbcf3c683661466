// Package session provides an in-memory session store with layered expiry
// policies and a concurrent-session limit per user.
//
// A session carries three expiry horizons: the access token expiry (renewable
// within a proactive renewal window), the refresh token expiry (the outer
// bound for renewals), and the absolute expiry (a hard ceiling no amount of
// activity extends). An inactivity timeout force-expires sessions whose
// activity gap grows too large.
//
// Validation is a single ordered pass: ValidateAndRenew checks each policy in
// turn, invalidates the session on the first violation, and renews the access
// token when it has expired or is about to. Once invalidated a session is
// dead; no operation revives it.
//
// State is process-local. A background sweep (default every 60s) purges
// deactivated and expired records as a safety net for sessions nobody
// actively revalidated. Call Stop for clean teardown.
package session
