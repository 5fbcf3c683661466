package authguard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nutrilog/authguard/ratelimit"
)

// SetRateLimitHeaders writes the standard rate limit response headers from
// a check result. limit is the window's MaxRequests for the action. When
// the result denies the call, Retry-After is set from the reset time.
func SetRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result, limit int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

	if !result.Allowed {
		retryAfter := time.Until(result.ResetTime)
		if retryAfter < 0 {
			retryAfter = 0
		}
		// Round up so clients never retry a second early.
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
	}
}

// SetSecurityHeaders sets defensive headers on authentication responses.
// These protect against clickjacking, MIME sniffing, and caching of
// sensitive material.
func SetSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
