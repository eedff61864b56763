package storagetest

import (
	"context"
	"errors"
	"sync"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

// ErrInjected ошибка, которую возвращает Memory после FailNext.
var ErrInjected = errors.New("injected failure")

// Memory хранилище в памяти для тестов зависимых пакетов.
type Memory struct {
	mu       sync.Mutex
	snap     *models.Snapshot
	failLoad int
	failSave int
	failGet  int

	loads int
	saves int
	gets  int
}

// NewMemory создаёт хранилище с копией snap. nil означает пустое хранилище.
func NewMemory(snap *models.Snapshot) *Memory {
	if snap == nil {
		snap = models.NewSnapshot()
	}
	return &Memory{snap: snap.Clone()}
}

// FailLoad заставляет n следующих вызовов Load завершиться ошибкой.
func (m *Memory) FailLoad(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLoad = n
}

// FailSave заставляет n следующих вызовов Save завершиться ошибкой.
func (m *Memory) FailSave(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = n
}

// FailGet заставляет n следующих точечных чтений завершиться ошибкой.
func (m *Memory) FailGet(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet = n
}

// Stored возвращает копию сохранённого состояния.
func (m *Memory) Stored() *models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone()
}

// Counts возвращает число вызовов Load, Save и точечных чтений.
func (m *Memory) Counts() (loads, saves, gets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.saves, m.gets
}

// Load реализует storage.Store.
func (m *Memory) Load(_ context.Context) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad > 0 {
		m.failLoad--
		return nil, errors.Join(storage.ErrStorage, ErrInjected)
	}
	return m.snap.Clone(), nil
}

// Save реализует storage.Store.
func (m *Memory) Save(_ context.Context, snap *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSave > 0 {
		m.failSave--
		return errors.Join(storage.ErrStorage, ErrInjected)
	}
	m.snap = snap.Clone()
	return nil
}

// GetUser реализует storage.Store.
func (m *Memory) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failGet > 0 {
		m.failGet--
		return nil, errors.Join(storage.ErrStorage, ErrInjected)
	}
	u, err := storage.UserFromSnapshot(m.snap, id)
	if err != nil {
		return nil, err
	}
	c := u.Clone()
	return &c, nil
}

// GetKey реализует storage.Store.
func (m *Memory) GetKey(_ context.Context, token string) (*models.AccessKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failGet > 0 {
		m.failGet--
		return nil, errors.Join(storage.ErrStorage, ErrInjected)
	}
	k, err := storage.KeyFromSnapshot(m.snap, token)
	if err != nil {
		return nil, err
	}
	c := k.Clone()
	return &c, nil
}

// Close реализует storage.Store.
func (m *Memory) Close() error {
	return nil
}
