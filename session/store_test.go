package session

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s := NewStore(cfg, slog.Default())
	t.Cleanup(s.Stop)
	return s
}

func createSession(t *testing.T, s *Store, userID string) *Record {
	t.Helper()
	rec, err := s.Create(context.Background(), CreateParams{
		UserID:      userID,
		AccessToken: "access-" + userID,
		DeviceID:    "device-1",
		UserAgent:   "test-agent",
		IPAddress:   "1.2.3.4",
	})
	require.NoError(t, err)
	return rec
}

func TestStore_CreateAndValidate(t *testing.T) {
	s := newTestStore(t, Config{})

	rec, err := s.Create(context.Background(), CreateParams{
		UserID:       "user-1",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		DeviceID:     "device-1",
		UserAgent:    "test-agent",
		IPAddress:    "1.2.3.4",
		Metadata:     map[string]string{"channel": "web"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.True(t, rec.Active)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, map[string]string{"channel": "web"}, rec.Metadata)

	// Expiry ordering invariant
	assert.True(t, !rec.AccessTokenExpiry.After(rec.RefreshTokenExpiry))
	assert.True(t, !rec.RefreshTokenExpiry.After(rec.AbsoluteExpiry))

	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	require.True(t, res.Valid)
	assert.False(t, res.Renewed)
	assert.Equal(t, rec.ID, res.Session.ID)
}

func TestStore_Create_RequiresUserID(t *testing.T) {
	s := newTestStore(t, Config{})

	_, err := s.Create(context.Background(), CreateParams{AccessToken: "tok"})
	assert.Error(t, err)

	_, err = s.Create(context.Background(), CreateParams{UserID: "user-1"})
	assert.Error(t, err)
}

func TestStore_ValidateAndRenew_UnknownSession(t *testing.T) {
	s := newTestStore(t, Config{})

	res := s.ValidateAndRenew(context.Background(), "no-such-session", true)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonSessionNotFound, res.Reason)
}

func TestStore_ValidateAndRenew_AbsoluteCeiling(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    40 * time.Millisecond,
		RefreshTokenTTL:   400 * time.Millisecond,
		AbsoluteTTL:       400 * time.Millisecond,
		InactivityTimeout: 10 * time.Second,
		RenewalWindow:     time.Millisecond,
	})

	rec := createSession(t, s, "user-1")

	// Continuous activity renews the access token but cannot outlive the
	// absolute expiry.
	sawRenewal := false
	deadline := time.Now().Add(700 * time.Millisecond)
	var final ValidationResult
	for time.Now().Before(deadline) {
		final = s.ValidateAndRenew(context.Background(), rec.ID, true)
		if !final.Valid {
			break
		}
		if final.Renewed {
			sawRenewal = true
		}
		time.Sleep(50 * time.Millisecond)
	}

	require.False(t, final.Valid, "session must die at the absolute ceiling despite activity")
	assert.Equal(t, ReasonAbsoluteExpiry, final.Reason)
	assert.True(t, sawRenewal, "access token should have been renewed before the ceiling")

	// Absorbing: the dead session never validates again
	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	assert.Equal(t, ReasonSessionNotFound, res.Reason)
}

func TestStore_ValidateAndRenew_Inactivity(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    10 * time.Second,
		InactivityTimeout: 50 * time.Millisecond,
	})

	rec := createSession(t, s, "user-1")
	time.Sleep(100 * time.Millisecond)

	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonInactivity, res.Reason)
}

func TestStore_ValidateAndRenew_RefreshExpired(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    30 * time.Millisecond,
		RefreshTokenTTL:   60 * time.Millisecond,
		InactivityTimeout: 10 * time.Second,
		RenewalWindow:     time.Millisecond,
	})

	rec := createSession(t, s, "user-1")
	time.Sleep(100 * time.Millisecond)

	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonRefreshExpired, res.Reason)
}

func TestStore_ValidateAndRenew_RenewsExpiredAccessToken(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    50 * time.Millisecond,
		RefreshTokenTTL:   10 * time.Second,
		InactivityTimeout: 10 * time.Second,
		RenewalWindow:     time.Millisecond,
	})

	rec := createSession(t, s, "user-1")
	time.Sleep(80 * time.Millisecond)

	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	require.True(t, res.Valid)
	assert.True(t, res.Renewed)
	assert.NotEqual(t, rec.AccessToken, res.Session.AccessToken)
	assert.True(t, res.Session.AccessTokenExpiry.After(time.Now()))
}

func TestStore_ValidateAndRenew_RenewalClampedToAbsoluteExpiry(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    100 * time.Millisecond,
		RefreshTokenTTL:   250 * time.Millisecond,
		AbsoluteTTL:       250 * time.Millisecond,
		InactivityTimeout: 10 * time.Second,
		RenewalWindow:     time.Millisecond,
	})
	s.SetRenewFunc(func(ctx context.Context, rec Record) (string, string, error) {
		return "rotated-access", "rotated-refresh", nil
	})

	rec := createSession(t, s, "user-1")
	time.Sleep(180 * time.Millisecond)

	// A renewal this close to the absolute ceiling would push both token
	// expiries past it; they must be clamped so the ordering invariant holds.
	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	require.True(t, res.Valid)
	require.True(t, res.Renewed)
	assert.Equal(t, "rotated-access", res.Session.AccessToken)
	assert.Equal(t, "rotated-refresh", res.Session.RefreshToken)
	assert.False(t, res.Session.AccessTokenExpiry.After(res.Session.AbsoluteExpiry))
	assert.False(t, res.Session.RefreshTokenExpiry.After(res.Session.AbsoluteExpiry))
	assert.False(t, res.Session.AccessTokenExpiry.After(res.Session.RefreshTokenExpiry))
}

func TestStore_ValidateAndRenew_RenewalFailure(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    50 * time.Millisecond,
		RefreshTokenTTL:   10 * time.Second,
		InactivityTimeout: 10 * time.Second,
		RenewalWindow:     time.Millisecond,
	})
	s.SetRenewFunc(func(ctx context.Context, rec Record) (string, string, error) {
		return "", "", fmt.Errorf("identity provider unavailable")
	})

	rec := createSession(t, s, "user-1")
	time.Sleep(80 * time.Millisecond)

	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonRenewalFailed, res.Reason)
}

func TestStore_ValidateAndRenew_ProactiveRenewalFailureIsNotFatal(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    300 * time.Millisecond,
		RefreshTokenTTL:   10 * time.Second,
		InactivityTimeout: 10 * time.Second,
		RenewalWindow:     250 * time.Millisecond,
	})
	s.SetRenewFunc(func(ctx context.Context, rec Record) (string, string, error) {
		return "", "", fmt.Errorf("identity provider unavailable")
	})

	rec := createSession(t, s, "user-1")
	time.Sleep(100 * time.Millisecond)

	// Inside the renewal window but not yet expired: the failed proactive
	// renewal falls through to the still-valid session.
	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	require.True(t, res.Valid)
	assert.False(t, res.Renewed)
	assert.Equal(t, rec.AccessToken, res.Session.AccessToken)
}

func TestStore_Invalidate_Idempotent(t *testing.T) {
	s := newTestStore(t, Config{})
	rec := createSession(t, s, "user-1")

	assert.True(t, s.Invalidate(rec.ID, ReasonLogout))
	assert.False(t, s.Invalidate(rec.ID, ReasonLogout))

	res := s.ValidateAndRenew(context.Background(), rec.ID, true)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonSessionNotFound, res.Reason)
}

func TestStore_ConcurrencyEviction(t *testing.T) {
	s := newTestStore(t, Config{MaxConcurrentSessions: 3})

	first := createSession(t, s, "user-1")
	second := createSession(t, s, "user-1")
	third := createSession(t, s, "user-1")

	// Touch the newer sessions so the first becomes least recently active.
	time.Sleep(20 * time.Millisecond)
	require.True(t, s.ValidateAndRenew(context.Background(), second.ID, true).Valid)
	require.True(t, s.ValidateAndRenew(context.Background(), third.ID, true).Valid)

	fourth := createSession(t, s, "user-1")

	active := s.ActiveSessions("user-1")
	require.Len(t, active, 3)
	ids := []string{active[0].ID, active[1].ID, active[2].ID}
	assert.NotContains(t, ids, first.ID, "least recently active session must be evicted")
	assert.Contains(t, ids, fourth.ID)

	res := s.ValidateAndRenew(context.Background(), first.ID, true)
	assert.Equal(t, ReasonSessionNotFound, res.Reason)
	assert.EqualValues(t, 1, s.GetStats().TotalEvictions)
}

func TestStore_PassiveValidationDoesNotTouchRecency(t *testing.T) {
	s := newTestStore(t, Config{MaxConcurrentSessions: 2})

	first := createSession(t, s, "user-1")
	second := createSession(t, s, "user-1")

	time.Sleep(20 * time.Millisecond)
	// Passive check on the first session, real activity on the second.
	require.True(t, s.ValidateAndRenew(context.Background(), first.ID, false).Valid)
	require.True(t, s.ValidateAndRenew(context.Background(), second.ID, true).Valid)

	third := createSession(t, s, "user-1")

	active := s.ActiveSessions("user-1")
	require.Len(t, active, 2)
	ids := []string{active[0].ID, active[1].ID}
	assert.NotContains(t, ids, first.ID, "passively validated session should be preferred for eviction")
	assert.Contains(t, ids, third.ID)
}

func TestStore_InvalidateAllForUser(t *testing.T) {
	s := newTestStore(t, Config{})

	keep := createSession(t, s, "user-1")
	createSession(t, s, "user-1")
	createSession(t, s, "user-1")
	other := createSession(t, s, "user-2")

	count := s.InvalidateAllForUser("user-1", keep.ID, ReasonLogout)
	assert.Equal(t, 2, count)

	active := s.ActiveSessions("user-1")
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)

	// Other users are untouched
	assert.True(t, s.ValidateAndRenew(context.Background(), other.ID, true).Valid)
}

func TestStore_ActiveSessions_SortedByRecency(t *testing.T) {
	s := newTestStore(t, Config{})

	first := createSession(t, s, "user-1")
	second := createSession(t, s, "user-1")

	time.Sleep(20 * time.Millisecond)
	require.True(t, s.ValidateAndRenew(context.Background(), first.ID, true).Valid)

	active := s.ActiveSessions("user-1")
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID, "most recently active first")
	assert.Equal(t, second.ID, active[1].ID)
}

func TestStore_Sweep(t *testing.T) {
	s := newTestStore(t, Config{
		AccessTokenTTL:    10 * time.Second,
		InactivityTimeout: 50 * time.Millisecond,
	})

	rec := createSession(t, s, "user-1")
	s.Invalidate(rec.ID, ReasonLogout)

	stale := createSession(t, s, "user-2")
	time.Sleep(100 * time.Millisecond)

	s.Sweep()

	_, ok := s.Get(rec.ID)
	assert.False(t, ok, "deactivated record should be purged")
	_, ok = s.Get(stale.ID)
	assert.False(t, ok, "inactive-timeout record should be purged")

	stats := s.GetStats()
	assert.Equal(t, 0, stats.TrackedSessions)
	assert.EqualValues(t, 0, s.Size())
}

func TestStore_GetStats(t *testing.T) {
	s := newTestStore(t, Config{})

	rec := createSession(t, s, "user-1")
	createSession(t, s, "user-2")
	s.Invalidate(rec.ID, ReasonLogout)

	stats := s.GetStats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 2, stats.TrackedSessions)
	assert.EqualValues(t, 2, stats.TotalCreated)
	assert.EqualValues(t, 1, stats.TotalInvalidated)
	assert.EqualValues(t, 1, s.Size())
}
