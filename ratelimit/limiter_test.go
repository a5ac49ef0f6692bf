package ratelimit

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		GlobalCapacity:    5,
		GlobalFillRate:    5,
		PerUserCapacity:   3,
		PerUserFillRate:   0.5,
		PerUserSeedTokens: 1,
		IdleAfter:         30 * time.Minute,
	}
}

func TestLimiterSeededFirstBurst(t *testing.T) {
	t.Parallel()

	l := NewLimiter(testConfig(), nil)
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	ok, reason := l.Allow("1001", now)
	if !ok || reason != ReasonAllowed {
		t.Fatalf("Allow() first = (%v, %s), want (true, %s)", ok, reason, ReasonAllowed)
	}
	// The per-user bucket is seeded with a single token, so an immediate
	// second request is throttled even though the shared tier has room.
	ok, reason = l.Allow("1001", now)
	if ok || reason != ReasonThrottled {
		t.Fatalf("Allow() second = (%v, %s), want (false, %s)", ok, reason, ReasonThrottled)
	}
	// 0.5 tokens/s: two seconds buys one more request.
	ok, reason = l.Allow("1001", now.Add(2*time.Second))
	if !ok || reason != ReasonAllowed {
		t.Fatalf("Allow() after refill = (%v, %s), want (true, %s)", ok, reason, ReasonAllowed)
	}
}

func TestLimiterGlobalTierFirst(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GlobalCapacity = 2
	cfg.GlobalFillRate = 0
	l := NewLimiter(cfg, nil)
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	if ok, _ := l.Allow("u1", now); !ok {
		t.Fatalf("Allow(u1) = false, want true")
	}
	if ok, _ := l.Allow("u2", now); !ok {
		t.Fatalf("Allow(u2) = false, want true")
	}
	ok, reason := l.Allow("u3", now)
	if ok || reason != ReasonBusy {
		t.Fatalf("Allow(u3) = (%v, %s), want (false, %s)", ok, reason, ReasonBusy)
	}
	// The shared tier denied before the per-user tier, so no bucket was
	// created for u3.
	if got := l.ActiveUsers(); got != 2 {
		t.Fatalf("ActiveUsers() = %d, want 2", got)
	}
}

func TestLimiterExemptBypassesBothTiers(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GlobalCapacity = 0
	cfg.GlobalFillRate = 0
	l := NewLimiter(cfg, []string{"9000"})
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		ok, reason := l.Allow("9000", now)
		if !ok || reason != ReasonAllowed {
			t.Fatalf("Allow(exempt) #%d = (%v, %s), want (true, %s)", i, ok, reason, ReasonAllowed)
		}
	}
	if ok, reason := l.Allow("1001", now); ok || reason != ReasonBusy {
		t.Fatalf("Allow(non-exempt) = (%v, %s), want (false, %s)", ok, reason, ReasonBusy)
	}
}

func TestLimiterSweepIdle(t *testing.T) {
	t.Parallel()

	l := NewLimiter(testConfig(), nil)
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	l.Allow("old", now)
	l.Allow("fresh", now.Add(29*time.Minute))
	if got := l.ActiveUsers(); got != 2 {
		t.Fatalf("ActiveUsers() = %d, want 2", got)
	}

	removed := l.SweepIdle(now.Add(31 * time.Minute))
	if removed != 1 {
		t.Fatalf("SweepIdle() removed = %d, want 1", removed)
	}
	if got := l.ActiveUsers(); got != 1 {
		t.Fatalf("ActiveUsers() after sweep = %d, want 1", got)
	}
}

func TestLimiterReset(t *testing.T) {
	t.Parallel()

	l := NewLimiter(testConfig(), nil)
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	l.Allow("u1", now)
	l.Allow("u2", now)

	if cleared := l.Reset(); cleared != 2 {
		t.Fatalf("Reset() = %d, want 2", cleared)
	}
	if got := l.ActiveUsers(); got != 0 {
		t.Fatalf("ActiveUsers() after reset = %d, want 0", got)
	}
}
