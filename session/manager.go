// Package session manages per-identity conversation sessions. Sessions
// are deliberately one-shot: every exchange starts from a fresh persona
// preset and the session is torn down after the round trip completes,
// whether the downstream call succeeded or not.
package session

import (
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}

const DefaultIdleTimeout = 30 * time.Minute

type Config struct {
	IdleTimeout   time.Duration
	Presets       map[string]Turn
	DefaultPreset Turn
}

type state struct {
	turns        []Turn
	lastActivity time.Time
}

// Manager owns every live session. All mutations run under one mutex;
// the downstream chat call happens outside it, between Turns and
// CompleteRoundTrip.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*state
	timeout  time.Duration
	presets  map[string]Turn
	fallback Turn

	// Now is the clock used for activity stamps. Tests pin it.
	Now func() time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	fallback := cfg.DefaultPreset
	if strings.TrimSpace(fallback.Content) == "" {
		fallback = Turn{Content: "You are a helpful assistant.", Role: RoleAssistant}
	}
	presets := make(map[string]Turn, len(cfg.Presets))
	for id, preset := range cfg.Presets {
		id = strings.TrimSpace(id)
		if id == "" || strings.TrimSpace(preset.Content) == "" {
			continue
		}
		if preset.Role == "" {
			preset.Role = RoleAssistant
		}
		presets[id] = preset
	}
	return &Manager{
		sessions: map[string]*state{},
		timeout:  cfg.IdleTimeout,
		presets:  presets,
		fallback: fallback,
		Now:      time.Now,
	}
}

// Ensure creates the identity's session if absent, seeding it with the
// identity's persona preset (or the default). It never fails and does
// not bump the activity stamp of an existing session.
func (m *Manager) Ensure(identity string) {
	identity = strings.TrimSpace(identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(identity)
}

// Append adds a turn to the identity's session, creating it first if
// needed, and updates the activity stamp.
func (m *Manager) Append(identity, content string, role Role) {
	identity = strings.TrimSpace(identity)

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureLocked(identity)
	s.turns = append(s.turns, Turn{Content: content, Role: role})
	s.lastActivity = m.Now()
}

// Turns returns a snapshot of the identity's ordered turn sequence,
// creating the session if absent. The caller serializes it into the
// downstream request.
func (m *Manager) Turns(identity string) []Turn {
	identity = strings.TrimSpace(identity)

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureLocked(identity)
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// CompleteRoundTrip destroys the identity's session unconditionally.
// It is called after every response, on failure paths included, so an
// errored exchange cannot leak session state.
func (m *Manager) CompleteRoundTrip(identity string) {
	identity = strings.TrimSpace(identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identity)
}

// SweepExpired destroys every session idle for longer than the configured
// timeout and reports how many were removed.
func (m *Manager) SweepExpired(now time.Time) int {
	if now.IsZero() {
		now = m.Now()
	}
	cutoff := now.Add(-m.timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.lastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Active reports how many sessions currently exist.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) ensureLocked(identity string) *state {
	if s, ok := m.sessions[identity]; ok {
		return s
	}
	preset, ok := m.presets[identity]
	if !ok {
		preset = m.fallback
	}
	s := &state{
		turns:        []Turn{preset},
		lastActivity: m.Now(),
	}
	m.sessions[identity] = s
	return s
}
