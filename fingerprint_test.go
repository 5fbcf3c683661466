package authguard

import "testing"

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("Mozilla/5.0", "en-US")

	if len(fp) != 16 {
		t.Errorf("Fingerprint() length = %d, want 16", len(fp))
	}

	// Deterministic for identical inputs.
	if Fingerprint("Mozilla/5.0", "en-US") != fp {
		t.Error("Fingerprint() not deterministic")
	}

	// Distinct inputs hash apart, including reordered parts.
	if Fingerprint("Mozilla/5.0", "de-DE") == fp {
		t.Error("Fingerprint() collided for different inputs")
	}
	if Fingerprint("en-US", "Mozilla/5.0") == fp {
		t.Error("Fingerprint() ignored part order")
	}

	// The raw input never appears in the output.
	if fp == "Mozilla/5.0|en-US" {
		t.Error("Fingerprint() leaked raw input")
	}
}

func TestFingerprintEmpty(t *testing.T) {
	if got := Fingerprint(); got != "" {
		t.Errorf("Fingerprint() with no parts = %q, want empty", got)
	}
	if got := Fingerprint("", ""); got != "" {
		t.Errorf("Fingerprint of empty parts = %q, want empty", got)
	}
}
