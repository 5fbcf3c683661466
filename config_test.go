package authguard

import (
	"testing"
	"time"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}.applyDefaults()

	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
	if cfg.Actions == nil {
		t.Fatal("Actions not defaulted")
	}
	if cfg.RateLimitSweepInterval != time.Minute {
		t.Errorf("RateLimitSweepInterval = %v, want 1m", cfg.RateLimitSweepInterval)
	}

	for _, action := range []string{ActionLogin, ActionPasswordReset, ActionAPI} {
		if _, ok := cfg.Actions[action]; !ok {
			t.Errorf("default Actions missing %q", action)
		}
	}
}

func TestDefaultActionLimits(t *testing.T) {
	limits := DefaultActionLimits()

	login := limits[ActionLogin]
	if login.MaxRequests != 5 || login.Window != 15*time.Minute {
		t.Errorf("login limit = %+v, want 5 per 15m", login)
	}

	// Credential actions block far longer than the api class.
	if limits[ActionPasswordReset].BlockDuration <= limits[ActionAPI].BlockDuration {
		t.Error("password_reset block should exceed api block")
	}
}

func TestConfigKeepsExplicitActions(t *testing.T) {
	cfg := Config{Actions: DefaultActionLimits()}
	cfg.Actions["export"] = cfg.Actions[ActionAPI]

	got := cfg.applyDefaults()
	if _, ok := got.Actions["export"]; !ok {
		t.Error("applyDefaults dropped explicit action")
	}
}
