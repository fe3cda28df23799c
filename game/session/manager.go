package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("invalid session ID")
)

// Manager is the registry of live sessions keyed by their external id.
// Sessions are created on first join and only removed by Delete or by the
// idle sweep.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	now      func() time.Time
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// GetOrCreate returns the session for id, creating an empty one if absent.
// Concurrent callers for the same id always receive the same *Session. The
// boolean reports whether this call created it.
func (m *Manager) GetOrCreate(id string) (*Session, bool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, false, ErrInvalidSessionID
	}

	m.mu.RLock()
	session, exists := m.sessions[id]
	m.mu.RUnlock()
	if exists {
		return session, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if session, exists := m.sessions[id]; exists {
		return session, false, nil
	}

	session = newSession(id, m.now)
	m.sessions[id] = session
	return session, true, nil
}

// Get looks up a session without creating it.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// List returns all sessions ordered by id.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].id < result[j].id
	})
	return result
}

// Delete removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle removes sessions that have no subscribers and no activity for
// at least maxIdle. hasSubscribers is consulted while the registry write lock
// is held, so a join that subscribes before the check keeps its session and a
// join that subscribes after it waits for the sweep and gets a fresh session.
// A non-positive maxIdle disables eviction.
func (m *Manager) EvictIdle(maxIdle time.Duration, hasSubscribers func(id string) bool) []string {
	if maxIdle <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxIdle)
	var evicted []string

	for id, session := range m.sessions {
		if !session.LastActivity().Before(cutoff) {
			continue
		}
		if hasSubscribers != nil && hasSubscribers(id) {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, id)
	}

	sort.Strings(evicted)
	return evicted
}
