// Package session issues and validates in-memory authentication sessions.
// Sessions are never persisted; a process restart logs everyone out.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/internal/clock"
	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/trusterr"
)

// DefaultTTL is the absolute lifetime of a session.
const DefaultTTL = 1800 * time.Second

// Session is an issued login. ExpiresAt is fixed at creation.
type Session struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	CreatedAt       time.Time            `json:"created_at"`
	ExpiresAt       time.Time            `json:"expires_at"`
	AuthMethodsUsed []account.AuthMethod `json:"auth_methods_used"`
	IsActive        bool                 `json:"is_active"`
	LastActivity    time.Time            `json:"last_activity"`
}

// ValidAt reports whether s is usable at now.
func (s *Session) ValidAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

func (s *Session) clone() Session {
	cp := *s
	cp.AuthMethodsUsed = slices.Clone(s.AuthMethodsUsed)
	return cp
}

// Manager is a thread-safe in-memory session table.
type Manager struct {
	ttl   time.Duration
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the absolute session lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		ttl:      DefaultTTL,
		clock:    clock.Real(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Create issues a session for userID. Expired and logged-out sessions are
// swept first.
func (m *Manager) Create(userID string, methods []account.AuthMethod) (Session, error) {
	if userID == "" {
		return Session{}, trusterr.Validationf("user id is required")
	}
	id, err := util.RandomToken()
	if err != nil {
		return Session{}, fmt.Errorf("generating session id: %w", err)
	}

	now := m.clock.Now().UTC()
	s := &Session{
		ID:              id,
		UserID:          userID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
		AuthMethodsUsed: slices.Clone(methods),
		IsActive:        true,
		LastActivity:    now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(now)
	m.sessions[id] = s
	return s.clone(), nil
}

// Validate returns the session for id and records activity. It never
// extends ExpiresAt.
func (m *Manager) Validate(id string) (Session, error) {
	now := m.clock.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, trusterr.ErrSessionNotFound
	}
	if !s.ValidAt(now) {
		return Session{}, trusterr.ErrSessionExpired
	}
	s.LastActivity = now
	return s.clone(), nil
}

// Logout deactivates the session. The entry is removed by the next sweep.
func (m *Manager) Logout(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, trusterr.ErrSessionNotFound
	}
	s.IsActive = false
	return s.clone(), nil
}

// LogoutUser deactivates every active session for userID except keepID,
// which may be empty, and returns how many were ended.
func (m *Manager) LogoutUser(userID, keepID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.UserID == userID && s.IsActive && id != keepID {
			s.IsActive = false
			n++
		}
	}
	return n
}

// ActiveCount returns the number of valid sessions for userID.
func (m *Manager) ActiveCount(userID string) int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.ValidAt(now) {
			n++
		}
	}
	return n
}

// Len returns the number of tracked sessions, including unswept dead ones.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) sweepLocked(now time.Time) int {
	n := 0
	for id, s := range m.sessions {
		if !s.ValidAt(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
