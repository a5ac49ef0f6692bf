package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type Reason string

const (
	ReasonGrantRedeemed Reason = "grant_redeemed"
	ReasonInvalidGrant  Reason = "invalid_grant"
	ReasonGrantExpired  Reason = "grant_expired"
)

const DefaultGrantTTL = 600 * time.Second

var ErrRemoveAdmin = fmt.Errorf("cannot remove the administrator")

type grant struct {
	expiresAt time.Time
	target    string
}

// Manager owns the authorization set and the pending one-time grants.
// State is process-wide and ephemeral: a restart clears every non-admin
// authorization and every pending grant.
type Manager struct {
	mu         sync.Mutex
	adminID    string
	authorized map[string]bool
	grants     map[string]grant
	grantTTL   time.Duration

	// Now is the clock used for grant expiry. Tests pin it.
	Now func() time.Time
}

func NewManager(adminID string) *Manager {
	adminID = strings.TrimSpace(adminID)
	return &Manager{
		adminID:    adminID,
		authorized: map[string]bool{adminID: true},
		grants:     map[string]grant{},
		grantTTL:   DefaultGrantTTL,
		Now:        time.Now,
	}
}

func (m *Manager) AdminID() string { return m.adminID }

func (m *Manager) IsAdmin(userID string) bool {
	return strings.TrimSpace(userID) == m.adminID
}

func (m *Manager) IsAuthorized(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorized[strings.TrimSpace(userID)]
}

// AddUser authorizes userID. It reports false when the user was already
// authorized.
func (m *Manager) AddUser(userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.authorized[userID] {
		return false
	}
	m.authorized[userID] = true
	return true
}

// RemoveUser revokes userID. Removing the administrator is refused.
func (m *Manager) RemoveUser(userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == m.adminID {
		return false, ErrRemoveAdmin
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.authorized[userID] {
		return false, nil
	}
	delete(m.authorized, userID)
	return true, nil
}

// ListUsers returns the authorized identities in sorted order.
func (m *Manager) ListUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.authorized))
	for id := range m.authorized {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ClearAll revokes every authorization except the administrator's and
// reports how many users were removed.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id := range m.authorized {
		if id == m.adminID {
			continue
		}
		delete(m.authorized, id)
		removed++
	}
	return removed
}

// MintGrant issues a single-use token that authorizes targetID when
// redeemed. Expired grants are purged opportunistically before minting.
func (m *Manager) MintGrant(targetID string) (string, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return "", fmt.Errorf("target id is required")
	}

	token, err := newGrantToken()
	if err != nil {
		return "", fmt.Errorf("mint grant: %w", err)
	}
	now := m.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeExpiredLocked(now)
	m.grants[token] = grant{expiresAt: now.Add(m.grantTTL), target: targetID}
	return token, nil
}

// RedeemGrant consumes token. A grant is single-use: redemption removes
// the entry whether it succeeds or not. On success the target is also
// added to the authorized set.
func (m *Manager) RedeemGrant(token string) (bool, string, Reason) {
	token = strings.TrimSpace(token)
	now := m.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[token]
	if !ok {
		return false, "", ReasonInvalidGrant
	}
	delete(m.grants, token)
	if now.After(g.expiresAt) {
		return false, "", ReasonGrantExpired
	}
	m.authorized[g.target] = true
	return true, g.target, ReasonGrantRedeemed
}

// PendingGrants reports how many unredeemed grants exist, expired ones
// included until the next purge.
func (m *Manager) PendingGrants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.grants)
}

func (m *Manager) purgeExpiredLocked(now time.Time) {
	for token, g := range m.grants {
		if now.After(g.expiresAt) {
			delete(m.grants, token)
		}
	}
}

func newGrantToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
