// Package conversation хранит состояние многошаговых диалогов с пользователями.
package conversation

import (
	"sync"
	"time"
)

// DefaultTTL время жизни незавершённого диалога.
const DefaultTTL = 5 * time.Minute

// State шаг диалога.
type State int

// Шаги диалога.
const (
	StateIdle State = iota
	// StateAwaitingKey ждём ключ доступа после /claim без аргумента.
	StateAwaitingKey
	// StateAwaitingUserID ждём id пользователя после /adduser <plan>.
	StateAwaitingUserID
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingKey:
		return "awaiting_key"
	case StateAwaitingUserID:
		return "awaiting_user_id"
	default:
		return "unknown"
	}
}

// Session незавершённый диалог пользователя.
type Session struct {
	State     State
	Plan      string
	ExpiresAt time.Time
}

// Manager потокобезопасное хранилище диалогов с истечением по времени.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]Session
	ttl      time.Duration
	now      func() time.Time
}

// New создаёт Manager. Нулевой ttl заменяется на DefaultTTL, nil now на time.Now.
func New(ttl time.Duration, now func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions: make(map[int64]Session),
		ttl:      ttl,
		now:      now,
	}
}

// Begin начинает диалог, заменяя предыдущий.
func (m *Manager) Begin(userID int64, state State, plan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == StateIdle {
		delete(m.sessions, userID)
		return
	}
	m.sessions[userID] = Session{State: state, Plan: plan, ExpiresAt: m.now().Add(m.ttl)}
}

// Get возвращает текущий диалог. Истёкший диалог удаляется и считается Idle.
func (m *Manager) Get(userID int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.lookup(userID)
	if !ok {
		return Session{State: StateIdle}
	}
	return s
}

// Take возвращает активный диалог и завершает его.
func (m *Manager) Take(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.lookup(userID)
	if ok {
		delete(m.sessions, userID)
	}
	return s, ok
}

// Reset завершает диалог пользователя.
func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// Sweep удаляет истёкшие диалоги и возвращает их количество.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len количество хранимых диалогов, включая ещё не удалённые истёкшие.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) lookup(userID int64) (Session, bool) {
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	if !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, userID)
		return Session{}, false
	}
	return s, true
}
