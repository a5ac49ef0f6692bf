package ratelimit

import (
	"strings"
	"sync"
	"time"
)

type Reason string

const (
	ReasonAllowed   Reason = "allowed"
	ReasonBusy      Reason = "busy"      // shared tier exhausted
	ReasonThrottled Reason = "throttled" // per-user tier exhausted
)

type Config struct {
	GlobalCapacity  float64
	GlobalFillRate  float64
	PerUserCapacity float64
	PerUserFillRate float64
	// PerUserSeedTokens is the starting balance of a lazily created
	// per-user bucket, so a first burst is still throttled.
	PerUserSeedTokens float64
	// IdleAfter is how long an untouched per-user bucket survives before
	// SweepIdle reclaims it.
	IdleAfter time.Duration
}

func DefaultChatConfig() Config {
	return Config{
		GlobalCapacity:    5,
		GlobalFillRate:    5,
		PerUserCapacity:   3,
		PerUserFillRate:   0.5,
		PerUserSeedTokens: 1,
		IdleAfter:         30 * time.Minute,
	}
}

func DefaultVideoConfig() Config {
	return Config{
		GlobalCapacity:    10,
		GlobalFillRate:    3,
		PerUserCapacity:   3,
		PerUserFillRate:   0.5,
		PerUserSeedTokens: 1,
		IdleAfter:         30 * time.Minute,
	}
}

// Limiter applies a two-tier token-bucket policy: one shared bucket
// protecting the whole service, then a lazily created per-user bucket.
// Users in the exemption set bypass both tiers.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	global  *Bucket
	perUser map[string]*Bucket
	exempt  map[string]bool
}

func NewLimiter(cfg Config, exempt []string) *Limiter {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 30 * time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		global:  NewBucket(cfg.GlobalCapacity, cfg.GlobalFillRate, time.Now().UTC()),
		perUser: map[string]*Bucket{},
		exempt:  map[string]bool{},
	}
	for _, id := range exempt {
		id = strings.TrimSpace(id)
		if id != "" {
			l.exempt[id] = true
		}
	}
	return l
}

// Allow admits or denies one request for userID. The shared bucket must
// admit first; only then is the per-user bucket checked. Denial is a
// normal outcome, not an error.
func (l *Limiter) Allow(userID string, now time.Time) (bool, Reason) {
	userID = strings.TrimSpace(userID)
	if now.IsZero() {
		now = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.exempt[userID] {
		return true, ReasonAllowed
	}
	if !l.global.Consume(1, now) {
		return false, ReasonBusy
	}

	b, ok := l.perUser[userID]
	if !ok {
		b = NewBucket(l.cfg.PerUserCapacity, l.cfg.PerUserFillRate, now)
		b.setTokens(l.cfg.PerUserSeedTokens)
		l.perUser[userID] = b
	}
	if !b.Consume(1, now) {
		return false, ReasonThrottled
	}
	return true, ReasonAllowed
}

// SweepIdle reclaims per-user buckets untouched for longer than IdleAfter
// and reports how many were removed. It runs on a schedule independent of
// request traffic.
func (l *Limiter) SweepIdle(now time.Time) int {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := now.Add(-l.cfg.IdleAfter)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.perUser {
		if b.LastRefill().Before(cutoff) {
			delete(l.perUser, id)
			removed++
		}
	}
	return removed
}

// Reset drops every per-user bucket and reports how many were cleared.
// The shared bucket is left alone.
func (l *Limiter) Reset() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cleared := len(l.perUser)
	l.perUser = map[string]*Bucket{}
	return cleared
}

// ActiveUsers reports how many per-user buckets currently exist.
func (l *Limiter) ActiveUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perUser)
}
