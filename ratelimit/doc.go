// Package ratelimit provides fixed-window request counting with escalating
// block periods, keyed by (subject kind, subject, action).
//
// Unlike a token bucket or sliding window, a key that exhausts its window is
// blocked outright for a configurable duration (default twice the window).
// Repeat offenders therefore pay a harder penalty than transient bursts,
// which is the intended policy for security-sensitive actions such as login
// and password reset.
//
// # Usage
//
//	limiter := ratelimit.New(logger)
//	defer limiter.Stop()
//
//	cfg := ratelimit.Config{Window: time.Minute, MaxRequests: 5}
//	res := limiter.Check(ratelimit.Key{Kind: ratelimit.KindIP, Subject: ip, Action: "login"}, cfg)
//	if !res.Allowed {
//	    // Deny with Retry-After derived from res.ResetTime
//	}
//
// Check never fails; a denied result is an expected outcome the caller
// translates into a user-facing "too many requests" error.
//
// A background sweep (default every 60s) removes entries whose window and
// block have both expired, bounding memory. Call Stop for clean teardown.
package ratelimit
