package authguard

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives a stable device fingerprint from request attributes
// such as User-Agent and Accept-Language. The inputs are hashed so the raw
// header values never appear in rate limit keys, logs, or metrics; the
// 16-hex-character prefix keeps keys short while leaving collisions
// irrelevant at rate-limiting granularity.
//
// An empty fingerprint (no inputs) is returned as "" so callers can skip
// the fingerprint gate rather than funnel all headerless clients into one
// shared bucket.
func Fingerprint(parts ...string) string {
	joined := strings.TrimSpace(strings.Join(parts, "|"))
	if strings.Trim(joined, "|") == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])[:16]
}
