// Package cache держит рабочий набор пользователей и ключей в памяти поверх
// постоянного хранилища. Изменения не пишутся синхронно: записи помечаются
// грязными и сохраняются периодическим Flush одним снимком.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/terabox-bot/internal/metrics"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

// Store часть storage.Store, которой пользуется кеш.
type Store interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, snap *models.Snapshot) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetKey(ctx context.Context, token string) (*models.AccessKey, error)
}

// Options параметры кеша.
type Options struct {
	// MinFlushInterval минимальный интервал между успешными сохранениями.
	MinFlushInterval time.Duration
	// Location часовой пояс, в котором считается текущая дата.
	Location *time.Location
	// Now источник времени, по умолчанию time.Now.
	Now func() time.Time
}

type userEntry struct {
	user    models.User
	dirty   bool
	version uint64
}

type keyEntry struct {
	key     models.AccessKey
	deleted bool
	dirty   bool
	version uint64
}

// Cache кеш с отложенной записью.
type Cache struct {
	store    Store
	log      *slog.Logger
	now      func() time.Time
	loc      *time.Location
	minFlush time.Duration

	mu       sync.Mutex
	users    map[int64]*userEntry
	keys     map[string]*keyEntry
	dirty    bool
	version  uint64
	gen      uint64
	lastSave time.Time

	flushMu sync.Mutex
}

// New создаёт пустой кеш.
func New(store Store, log *slog.Logger, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Cache{
		store:    store,
		log:      log,
		now:      opts.Now,
		loc:      opts.Location,
		minFlush: opts.MinFlushInterval,
		users:    make(map[int64]*userEntry),
		keys:     make(map[string]*keyEntry),
	}
}

// Now текущее время по часам кеша.
func (c *Cache) Now() time.Time {
	return c.now()
}

// Today текущая дата в часовом поясе сброса.
func (c *Cache) Today() string {
	return c.now().In(c.loc).Format(models.DateLayout)
}

// GetUser возвращает копию пользователя. Отсутствующий пользователь создаётся
// со значениями по умолчанию и помечается грязным. Ошибка возвращается только
// при сбое хранилища.
func (c *Cache) GetUser(ctx context.Context, id int64) (models.User, error) {
	const op = "cache.GetUser"
	for {
		c.mu.Lock()
		if e, ok := c.users[id]; ok {
			u := e.user.Clone()
			c.mu.Unlock()
			metrics.RecordCacheAccess("user", true)
			return u, nil
		}
		gen := c.gen
		c.mu.Unlock()
		metrics.RecordCacheAccess("user", false)

		stored, err := c.fetchUser(ctx, id)
		if err != nil {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}

		c.mu.Lock()
		if c.gen != gen {
			// Пока шло чтение, запись могли изменить, сохранить и вытеснить.
			c.mu.Unlock()
			continue
		}
		u := c.installUser(id, stored).user.Clone()
		c.mu.Unlock()
		return u, nil
	}
}

// GetKey возвращает копию ключа. Отсутствие ключа не кешируется.
func (c *Cache) GetKey(ctx context.Context, token string) (models.AccessKey, bool, error) {
	const op = "cache.GetKey"
	for {
		c.mu.Lock()
		if e, ok := c.keys[token]; ok {
			k, found := e.key.Clone(), !e.deleted
			c.mu.Unlock()
			metrics.RecordCacheAccess("key", true)
			return k, found, nil
		}
		gen := c.gen
		c.mu.Unlock()
		metrics.RecordCacheAccess("key", false)

		stored, err := c.fetchKey(ctx, token)
		if err != nil {
			return models.AccessKey{}, false, fmt.Errorf("%s: %w", op, err)
		}
		if stored == nil {
			return models.AccessKey{}, false, nil
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			continue
		}
		e := c.installKey(token, stored)
		if e == nil || e.deleted {
			c.mu.Unlock()
			return models.AccessKey{}, false, nil
		}
		k := e.key.Clone()
		c.mu.Unlock()
		return k, true, nil
	}
}

// PutUser заменяет пользователя в кеше и помечает его грязным.
func (c *Cache) PutUser(u models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setUser(u)
}

// PutKey заменяет ключ в кеше и помечает его грязным.
func (c *Cache) PutKey(k models.AccessKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setKey(k)
}

// DeleteKey оставляет в кеше надгробие, которое удалит ключ при сохранении.
func (c *Cache) DeleteKey(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeKey(token)
}

// Update предзагружает перечисленные записи и выполняет fn под блокировкой кеша.
// Изменения, сделанные через Tx, применяются только если fn вернула nil.
// Все правила вида «проверить и изменить» выполняются через Update.
func (c *Cache) Update(ctx context.Context, userIDs []int64, tokens []string, fn func(tx *Tx) error) error {
	const op = "cache.Update"
	for {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		users := make(map[int64]*models.User, len(userIDs))
		for _, id := range userIDs {
			if c.cachedUser(id) {
				continue
			}
			u, err := c.fetchUser(ctx, id)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			users[id] = u
		}
		keys := make(map[string]*models.AccessKey, len(tokens))
		for _, token := range tokens {
			if c.cachedKey(token) {
				continue
			}
			k, err := c.fetchKey(ctx, token)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			keys[token] = k
		}

		c.mu.Lock()
		if c.gen != gen {
			// Между чтением и блокировкой прошла очистка, прочитанные записи могли устареть.
			c.mu.Unlock()
			continue
		}
		for id, u := range users {
			c.installUser(id, u)
		}
		for token, k := range keys {
			c.installKey(token, k)
		}

		tx := newTx(c)
		err := fn(tx)
		if err == nil {
			tx.apply()
		}
		c.mu.Unlock()
		return err
	}
}

// UpdateAllUsers загружает всех пользователей хранилища в кеш и применяет fn
// к каждому под одной блокировкой. fn возвращает true, если изменила запись.
// Возвращает число изменённых записей.
func (c *Cache) UpdateAllUsers(ctx context.Context, fn func(u *models.User) bool) (int, error) {
	const op = "cache.UpdateAllUsers"
	for {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		snap, err := c.store.Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			continue
		}
		for id, u := range snap.Users {
			if _, ok := c.users[id]; !ok {
				c.users[id] = &userEntry{user: u.Clone()}
			}
		}
		changed := 0
		for _, e := range c.users {
			u := e.user.Clone()
			if fn(&u) {
				c.setUser(u)
				changed++
			}
		}
		c.mu.Unlock()
		return changed, nil
	}
}

// Snapshot возвращает сохранённый снимок, поверх которого наложено состояние кеша.
func (c *Cache) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	const op = "cache.Snapshot"
	snap, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.users {
		snap.Users[id] = e.user.Clone()
	}
	for token, e := range c.keys {
		if e.deleted {
			delete(snap.Keys, token)
			continue
		}
		snap.Keys[token] = e.key.Clone()
	}
	return snap, nil
}

// InvalidateAll удаляет из кеша все чистые записи. Грязные записи и надгробия
// остаются до ближайшего успешного сохранения.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	dropped := 0
	for id, e := range c.users {
		if !e.dirty {
			delete(c.users, id)
			dropped++
		}
	}
	for token, e := range c.keys {
		if !e.dirty {
			delete(c.keys, token)
			dropped++
		}
	}
	c.updateMetrics()
	return dropped
}

// Dirty сообщает, есть ли несохранённые изменения.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Len возвращает число закешированных пользователей и ключей.
func (c *Cache) Len() (users, keys int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users), len(c.keys)
}

// Flush сохраняет грязные записи, если они есть и с прошлого успешного
// сохранения прошло не меньше MinFlushInterval. При ошибке записи остаются
// грязными. Возвращает true, если снимок был записан.
func (c *Cache) Flush(ctx context.Context) (bool, error) {
	return c.flush(ctx, false)
}

// ForceFlush сохраняет грязные записи без учёта интервала.
func (c *Cache) ForceFlush(ctx context.Context) (bool, error) {
	return c.flush(ctx, true)
}

type pendingUser struct {
	user    models.User
	version uint64
}

type pendingKey struct {
	key     models.AccessKey
	deleted bool
	version uint64
}

func (c *Cache) flush(ctx context.Context, force bool) (bool, error) {
	const op = "cache.Flush"
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return false, nil
	}
	if !force && !c.lastSave.IsZero() && c.now().Sub(c.lastSave) < c.minFlush {
		c.mu.Unlock()
		return false, nil
	}
	users := make(map[int64]pendingUser)
	for id, e := range c.users {
		if e.dirty {
			users[id] = pendingUser{user: e.user.Clone(), version: e.version}
		}
	}
	keys := make(map[string]pendingKey)
	for token, e := range c.keys {
		if e.dirty {
			keys[token] = pendingKey{key: e.key.Clone(), deleted: e.deleted, version: e.version}
		}
	}
	c.mu.Unlock()

	snap, err := c.store.Load(ctx)
	if err == nil {
		for id, p := range users {
			snap.Users[id] = p.user
		}
		for token, p := range keys {
			if p.deleted {
				delete(snap.Keys, token)
				continue
			}
			snap.Keys[token] = p.key
		}
		err = c.store.Save(ctx, snap)
	}
	metrics.RecordFlush(err)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range users {
		if e, ok := c.users[id]; ok && e.version == p.version {
			e.dirty = false
		}
	}
	for token, p := range keys {
		e, ok := c.keys[token]
		if !ok || e.version != p.version {
			continue
		}
		if e.deleted {
			delete(c.keys, token)
			continue
		}
		e.dirty = false
	}
	c.lastSave = c.now()
	c.dirty = c.hasDirty()
	c.updateMetrics()
	c.log.Debug("cache flushed",
		slog.String("op", op),
		slog.Int("users", len(users)),
		slog.Int("keys", len(keys)),
	)
	return true, nil
}

// fetchUser читает пользователя из хранилища. nil без ошибки означает отсутствие записи.
func (c *Cache) fetchUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := c.store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Cache) fetchKey(ctx context.Context, token string) (*models.AccessKey, error) {
	k, err := c.store.GetKey(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (c *Cache) cachedUser(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.users[id]
	return ok
}

func (c *Cache) cachedKey(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[token]
	return ok
}

// installUser кладёт прочитанную запись в кеш, если её там ещё нет.
// Для отсутствующего пользователя создаётся запись по умолчанию. Вызывается под mu.
func (c *Cache) installUser(id int64, stored *models.User) *userEntry {
	if e, ok := c.users[id]; ok {
		return e
	}
	if stored != nil {
		e := &userEntry{user: stored.Clone()}
		c.users[id] = e
		c.updateMetrics()
		return e
	}
	c.setUser(models.NewUser(id, c.Today(), c.now().UTC()))
	return c.users[id]
}

// installKey кладёт прочитанный ключ в кеш. Вызывается под mu.
func (c *Cache) installKey(token string, stored *models.AccessKey) *keyEntry {
	if e, ok := c.keys[token]; ok {
		return e
	}
	if stored == nil {
		return nil
	}
	e := &keyEntry{key: stored.Clone()}
	c.keys[token] = e
	c.updateMetrics()
	return e
}

func (c *Cache) setUser(u models.User) {
	c.version++
	c.users[u.ID] = &userEntry{user: u.Clone(), dirty: true, version: c.version}
	c.dirty = true
	c.updateMetrics()
}

func (c *Cache) setKey(k models.AccessKey) {
	c.version++
	c.keys[k.Token] = &keyEntry{key: k.Clone(), dirty: true, version: c.version}
	c.dirty = true
	c.updateMetrics()
}

func (c *Cache) removeKey(token string) {
	c.version++
	c.keys[token] = &keyEntry{key: models.AccessKey{Token: token}, deleted: true, dirty: true, version: c.version}
	c.dirty = true
	c.updateMetrics()
}

func (c *Cache) hasDirty() bool {
	for _, e := range c.users {
		if e.dirty {
			return true
		}
	}
	for _, e := range c.keys {
		if e.dirty {
			return true
		}
	}
	return false
}

func (c *Cache) dirtyCount() int {
	n := 0
	for _, e := range c.users {
		if e.dirty {
			n++
		}
	}
	for _, e := range c.keys {
		if e.dirty {
			n++
		}
	}
	return n
}

func (c *Cache) updateMetrics() {
	metrics.UpdateCacheMetrics(len(c.users), len(c.keys), c.dirtyCount())
}
