package session

import (
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestSessionStartsWithPreset(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{
		Presets: map[string]Turn{
			"1001": {Content: "custom persona", Role: RoleAssistant},
		},
		DefaultPreset: Turn{Content: "default persona", Role: RoleAssistant},
	})

	m.Append("1001", "hello", RoleUser)
	turns := m.Turns("1001")
	if len(turns) != 2 {
		t.Fatalf("Turns() len = %d, want 2", len(turns))
	}
	if turns[0].Content != "custom persona" || turns[0].Role != RoleAssistant {
		t.Fatalf("Turns()[0] = %+v, want the persona preset first", turns[0])
	}
	if turns[1].Content != "hello" || turns[1].Role != RoleUser {
		t.Fatalf("Turns()[1] = %+v, want the user turn", turns[1])
	}

	// An identity without its own preset gets the default.
	m.Ensure("2002")
	turns = m.Turns("2002")
	if len(turns) != 1 || turns[0].Content != "default persona" {
		t.Fatalf("Turns(2002) = %+v, want only the default preset", turns)
	}
}

func TestOneShotRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{})
	m.Append("1001", "first question", RoleUser)
	m.Append("1001", "first answer", RoleAssistant)
	m.CompleteRoundTrip("1001")

	// The next exchange starts from a fresh preset with no prior turns.
	m.Ensure("1001")
	turns := m.Turns("1001")
	if len(turns) != 1 {
		t.Fatalf("Turns() after round trip = %d turns, want only the preset", len(turns))
	}
	if turns[0].Role != RoleAssistant {
		t.Fatalf("Turns()[0].Role = %s, want %s", turns[0].Role, RoleAssistant)
	}
}

func TestCompleteRoundTripIsUnconditional(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{})
	// Tearing down an absent session is a no-op, so failure paths can
	// always call it.
	m.CompleteRoundTrip("absent")
	if got := m.Active(); got != 0 {
		t.Fatalf("Active() = %d, want 0", got)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{IdleTimeout: 30 * time.Minute})

	m.Now = fixedClock(base)
	m.Append("old", "hi", RoleUser)
	m.Now = fixedClock(base.Add(29 * time.Minute))
	m.Append("fresh", "hi", RoleUser)

	removed := m.SweepExpired(base.Add(31 * time.Minute))
	if removed != 1 {
		t.Fatalf("SweepExpired() = %d, want 1", removed)
	}
	if got := m.Active(); got != 1 {
		t.Fatalf("Active() after sweep = %d, want 1", got)
	}
}

func TestEnsureDoesNotBumpActivity(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{IdleTimeout: 30 * time.Minute})

	m.Now = fixedClock(base)
	m.Append("1001", "hi", RoleUser)

	// Ensure on an existing session must not refresh its activity stamp.
	m.Now = fixedClock(base.Add(29 * time.Minute))
	m.Ensure("1001")

	if removed := m.SweepExpired(base.Add(31 * time.Minute)); removed != 1 {
		t.Fatalf("SweepExpired() = %d, want 1 (Ensure must not reset idle time)", removed)
	}
}

func TestTurnsReturnsSnapshot(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{})
	m.Append("1001", "hello", RoleUser)

	turns := m.Turns("1001")
	turns[0].Content = "mutated"

	if got := m.Turns("1001"); got[0].Content == "mutated" {
		t.Fatalf("Turns() snapshot aliases manager state")
	}
}
