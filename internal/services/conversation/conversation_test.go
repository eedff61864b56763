package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager() (*Manager, *clock) {
	c := &clock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	return New(time.Minute, c.Now), c
}

func TestManager_BeginAndTake(t *testing.T) {
	m, _ := newManager()

	assert.Equal(t, StateIdle, m.Get(1).State, "без диалога пользователь в Idle")

	m.Begin(1, StateAwaitingUserID, "monthly")
	s := m.Get(1)
	assert.Equal(t, StateAwaitingUserID, s.State)
	assert.Equal(t, "monthly", s.Plan)

	taken, ok := m.Take(1)
	require.True(t, ok)
	assert.Equal(t, "monthly", taken.Plan)

	_, ok = m.Take(1)
	assert.False(t, ok, "диалог завершается после Take")
}

func TestManager_Expiry(t *testing.T) {
	m, c := newManager()
	m.Begin(1, StateAwaitingKey, "")

	c.Advance(59 * time.Second)
	assert.Equal(t, StateAwaitingKey, m.Get(1).State)

	c.Advance(time.Second)
	assert.Equal(t, StateIdle, m.Get(1).State, "диалог истёк")
	assert.Equal(t, 0, m.Len(), "истёкший диалог удалён при чтении")
}

func TestManager_BeginReplaces(t *testing.T) {
	m, _ := newManager()
	m.Begin(1, StateAwaitingKey, "")
	m.Begin(1, StateAwaitingUserID, "yearly")
	assert.Equal(t, StateAwaitingUserID, m.Get(1).State)

	m.Begin(1, StateIdle, "")
	assert.Equal(t, 0, m.Len())
}

func TestManager_Sweep(t *testing.T) {
	m, c := newManager()
	m.Begin(1, StateAwaitingKey, "")
	c.Advance(30 * time.Second)
	m.Begin(2, StateAwaitingKey, "")
	c.Advance(30 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, StateAwaitingKey, m.Get(2).State)
}

func TestManager_Reset(t *testing.T) {
	m, _ := newManager()
	m.Begin(1, StateAwaitingKey, "")
	m.Begin(2, StateAwaitingKey, "")
	m.Reset(1)
	assert.Equal(t, StateIdle, m.Get(1).State)
	assert.Equal(t, StateAwaitingKey, m.Get(2).State, "диалоги пользователей независимы")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_key", StateAwaitingKey.String())
	assert.Equal(t, "unknown", State(9).String())
}
