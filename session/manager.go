package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the per-user session map. All access goes through its
// mutex; callers additionally serialize per-user work (one worker per
// user), so two rapid messages from the same user apply in order.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
}

// Begin starts (or restarts) a conversation for userID at state, dropping
// any scratch data from a previous workflow.
func (m *Manager) Begin(userID int64, state State) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     state,
		Scratch:   make(map[string]string),
		UpdatedAt: m.now(),
	}
	m.sessions[userID] = s
	return copySession(s)
}

// Get returns a copy of the active session for userID, if any.
func (m *Manager) Get(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return copySession(s), true
}

// Advance records value under field and moves the session to next. It
// reports false when the user has no active session.
func (m *Manager) Advance(userID int64, field, value string, next State) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	if field != "" {
		s.Scratch[field] = value
	}
	s.State = next
	s.UpdatedAt = m.now()
	return copySession(s), true
}

// Clear destroys the session for userID, if any.
func (m *Manager) Clear(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// Active reports the number of in-flight sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SweepIdle evicts sessions whose last activity is older than maxIdle,
// returning those users to the no-session default state. It reports how
// many sessions were evicted.
func (m *Manager) SweepIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-maxIdle)
	evicted := 0
	for userID, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, userID)
			evicted++
		}
	}
	return evicted
}

func copySession(s *Session) Session {
	out := *s
	out.Scratch = make(map[string]string, len(s.Scratch))
	for k, v := range s.Scratch {
		out.Scratch[k] = v
	}
	return out
}
