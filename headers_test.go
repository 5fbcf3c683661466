package authguard

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/nutrilog/authguard/ratelimit"
)

func TestSetRateLimitHeadersAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	reset := time.Now().Add(30 * time.Second)

	SetRateLimitHeaders(w, ratelimit.Result{
		Allowed:   true,
		Remaining: 4,
		ResetTime: reset,
	}, 5)

	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(reset.Unix(), 10) {
		t.Errorf("X-RateLimit-Reset = %q, want %d", got, reset.Unix())
	}
	if got := w.Header().Get("Retry-After"); got != "" {
		t.Errorf("Retry-After set on allowed result: %q", got)
	}
}

func TestSetRateLimitHeadersDenied(t *testing.T) {
	w := httptest.NewRecorder()

	SetRateLimitHeaders(w, ratelimit.Result{
		Allowed:   false,
		Blocked:   true,
		Remaining: 0,
		ResetTime: time.Now().Add(90 * time.Second),
	}, 5)

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After not an integer: %v", err)
	}
	// Rounded up, never early.
	if retryAfter < 90 || retryAfter > 91 {
		t.Errorf("Retry-After = %d, want ~90", retryAfter)
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w)

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
		"Pragma":                 "no-cache",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if got := w.Header().Get("Cache-Control"); got == "" {
		t.Error("Cache-Control not set")
	}
}
