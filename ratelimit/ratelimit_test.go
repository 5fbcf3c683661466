package ratelimit

import (
	"log/slog"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	l := New(nil)
	defer l.Stop()

	if l == nil {
		t.Fatal("New() returned nil")
	}
	if l.logger == nil {
		t.Error("logger should not be nil")
	}
	if l.sweepInterval != DefaultSweepInterval {
		t.Errorf("sweepInterval = %v, want %v", l.sweepInterval, DefaultSweepInterval)
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Kind: KindIP, Subject: "1.2.3.4", Action: "login"}
	if got := k.String(); got != "ip:1.2.3.4:login" {
		t.Errorf("String() = %q, want %q", got, "ip:1.2.3.4:login")
	}
}

func TestLimiter_Check_WindowCounting(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: time.Minute, MaxRequests: 5}
	key := Key{Kind: KindIP, Subject: "1.2.3.4", Action: "login"}

	// Five calls within the window are allowed with strictly decreasing remaining
	for i, want := range []int{4, 3, 2, 1, 0} {
		res := l.Check(key, cfg)
		if !res.Allowed {
			t.Fatalf("Check() call %d should be allowed", i+1)
		}
		if res.Remaining != want {
			t.Errorf("Check() call %d remaining = %d, want %d", i+1, res.Remaining, want)
		}
		if res.Blocked {
			t.Errorf("Check() call %d should not report blocked", i+1)
		}
	}

	// The sixth call trips the block
	res := l.Check(key, cfg)
	if res.Allowed {
		t.Error("Check() sixth call should be denied")
	}
	if !res.Blocked {
		t.Error("Check() sixth call should report blocked")
	}
	if res.Remaining != 0 {
		t.Errorf("Check() sixth call remaining = %d, want 0", res.Remaining)
	}
}

func TestLimiter_Check_SeparateKeys(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: time.Minute, MaxRequests: 1}
	a := Key{Kind: KindIP, Subject: "1.2.3.4", Action: "login"}
	b := Key{Kind: KindIP, Subject: "5.6.7.8", Action: "login"}
	c := Key{Kind: KindIP, Subject: "1.2.3.4", Action: "password_reset"}

	if !l.Check(a, cfg).Allowed {
		t.Error("Check(a) first call should be allowed")
	}
	if l.Check(a, cfg).Allowed {
		t.Error("Check(a) second call should be denied")
	}

	// Different subject and different action are independent keys
	if !l.Check(b, cfg).Allowed {
		t.Error("Check(b) should be allowed (different subject)")
	}
	if !l.Check(c, cfg).Allowed {
		t.Error("Check(c) should be allowed (different action)")
	}
}

func TestLimiter_Check_BlockEscalation(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: 100 * time.Millisecond, MaxRequests: 1, BlockDuration: 200 * time.Millisecond}
	key := Key{Kind: KindIP, Subject: "9.9.9.9", Action: "login"}

	if !l.Check(key, cfg).Allowed {
		t.Fatal("first call should be allowed")
	}

	blocked := l.Check(key, cfg)
	if blocked.Allowed || !blocked.Blocked {
		t.Fatal("second call should trip the block")
	}

	// Repeated calls during the block are denied with the same reset time
	for i := 0; i < 3; i++ {
		res := l.Check(key, cfg)
		if res.Allowed {
			t.Errorf("call %d during block should be denied", i+1)
		}
		if !res.ResetTime.Equal(blocked.ResetTime) {
			t.Errorf("call %d during block resetTime = %v, want %v", i+1, res.ResetTime, blocked.ResetTime)
		}
	}

	// Once the block lapses, a fresh window starts
	time.Sleep(250 * time.Millisecond)
	res := l.Check(key, cfg)
	if !res.Allowed {
		t.Error("call after block expiry should be allowed")
	}
	if res.Remaining != cfg.MaxRequests-1 {
		t.Errorf("fresh window remaining = %d, want %d", res.Remaining, cfg.MaxRequests-1)
	}
}

func TestLimiter_Check_WindowReset(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: 100 * time.Millisecond, MaxRequests: 2}
	key := Key{Kind: KindUser, Subject: "user-1", Action: "api"}

	l.Check(key, cfg)
	l.Check(key, cfg)

	// Window lapses without the key ever being blocked
	time.Sleep(150 * time.Millisecond)

	res := l.Check(key, cfg)
	if !res.Allowed {
		t.Error("call after window reset should be allowed")
	}
	if res.Remaining != 1 {
		t.Errorf("remaining = %d, want 1", res.Remaining)
	}
}

func TestLimiter_CheckAll(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: time.Minute, MaxRequests: 2}
	ipKey := Key{Kind: KindIP, Subject: "1.2.3.4", Action: "login"}
	fpKey := Key{Kind: KindFingerprint, Subject: "fp-abc", Action: "login"}

	// Exhaust only the fingerprint key
	l.Check(fpKey, cfg)
	l.Check(fpKey, cfg)
	if l.Check(fpKey, cfg).Allowed {
		t.Fatal("fingerprint key should be exhausted")
	}

	// Composite check fails even though the IP key alone would pass
	res := l.CheckAll(cfg, ipKey, fpKey)
	if res.Allowed {
		t.Error("CheckAll() should deny when any key is denied")
	}
	if !res.Blocked {
		t.Error("CheckAll() should surface the blocking key's result")
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: 50 * time.Millisecond, MaxRequests: 5}
	l.Check(Key{Kind: KindIP, Subject: "1.1.1.1", Action: "api"}, cfg)
	l.Check(Key{Kind: KindIP, Subject: "2.2.2.2", Action: "api"}, cfg)

	// Still within the window: nothing to remove
	l.Sweep()
	if got := l.GetStats().CurrentEntries; got != 2 {
		t.Errorf("entries after early sweep = %d, want 2", got)
	}

	time.Sleep(100 * time.Millisecond)

	l.Sweep()
	if got := l.GetStats().CurrentEntries; got != 0 {
		t.Errorf("entries after sweep = %d, want 0", got)
	}
	if got := l.Size(); got != 0 {
		t.Errorf("Size() = %d, want 0", got)
	}
}

func TestLimiter_Sweep_KeepsBlockedEntries(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: 50 * time.Millisecond, MaxRequests: 1, BlockDuration: time.Minute}
	key := Key{Kind: KindIP, Subject: "3.3.3.3", Action: "login"}

	l.Check(key, cfg)
	l.Check(key, cfg) // trips the block

	time.Sleep(100 * time.Millisecond)

	// Window expired but the block has not: entry must survive the sweep
	l.Sweep()
	if got := l.GetStats().CurrentEntries; got != 1 {
		t.Errorf("entries after sweep = %d, want 1 (blocked entry retained)", got)
	}

	res := l.Check(key, cfg)
	if res.Allowed {
		t.Error("blocked key should still be denied after sweep")
	}
}

func TestLimiter_GetStats(t *testing.T) {
	l := New(slog.Default())
	defer l.Stop()

	cfg := Config{Window: time.Minute, MaxRequests: 1}
	key := Key{Kind: KindIP, Subject: "4.4.4.4", Action: "login"}

	l.Check(key, cfg)
	l.Check(key, cfg)
	l.Check(key, cfg)

	stats := l.GetStats()
	if stats.CurrentEntries != 1 {
		t.Errorf("CurrentEntries = %d, want 1", stats.CurrentEntries)
	}
	if stats.TotalAllowed != 1 {
		t.Errorf("TotalAllowed = %d, want 1", stats.TotalAllowed)
	}
	if stats.TotalDenied != 2 {
		t.Errorf("TotalDenied = %d, want 2", stats.TotalDenied)
	}
	if stats.TotalBlocks != 1 {
		t.Errorf("TotalBlocks = %d, want 1", stats.TotalBlocks)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Window != DefaultWindow {
		t.Errorf("Window = %v, want %v", cfg.Window, DefaultWindow)
	}
	if cfg.MaxRequests != DefaultMaxRequests {
		t.Errorf("MaxRequests = %d, want %d", cfg.MaxRequests, DefaultMaxRequests)
	}
	if cfg.BlockDuration != 2*DefaultWindow {
		t.Errorf("BlockDuration = %v, want %v", cfg.BlockDuration, 2*DefaultWindow)
	}
}
