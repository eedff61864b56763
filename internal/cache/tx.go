package cache

import (
	"time"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

// Tx набор изменений внутри Cache.Update. Чтения видят уже сделанные
// в этой транзакции изменения.
type Tx struct {
	c       *Cache
	users   map[int64]models.User
	keys    map[string]models.AccessKey
	deleted map[string]bool
}

func newTx(c *Cache) *Tx {
	return &Tx{
		c:       c,
		users:   make(map[int64]models.User),
		keys:    make(map[string]models.AccessKey),
		deleted: make(map[string]bool),
	}
}

// Now текущее время по часам кеша.
func (tx *Tx) Now() time.Time {
	return tx.c.now()
}

// Today текущая дата в часовом поясе сброса.
func (tx *Tx) Today() string {
	return tx.c.Today()
}

// User возвращает пользователя из рабочего набора. Пользователи, не
// перечисленные в Update, возвращаются со значениями по умолчанию.
func (tx *Tx) User(id int64) models.User {
	if u, ok := tx.users[id]; ok {
		return u.Clone()
	}
	if e, ok := tx.c.users[id]; ok {
		return e.user.Clone()
	}
	return models.NewUser(id, tx.c.Today(), tx.c.now().UTC())
}

// Key возвращает ключ из рабочего набора.
func (tx *Tx) Key(token string) (models.AccessKey, bool) {
	if tx.deleted[token] {
		return models.AccessKey{}, false
	}
	if k, ok := tx.keys[token]; ok {
		return k.Clone(), true
	}
	if e, ok := tx.c.keys[token]; ok && !e.deleted {
		return e.key.Clone(), true
	}
	return models.AccessKey{}, false
}

// PutUser записывает пользователя.
func (tx *Tx) PutUser(u models.User) {
	tx.users[u.ID] = u.Clone()
}

// PutKey записывает ключ.
func (tx *Tx) PutKey(k models.AccessKey) {
	delete(tx.deleted, k.Token)
	tx.keys[k.Token] = k.Clone()
}

// DeleteKey удаляет ключ.
func (tx *Tx) DeleteKey(token string) {
	delete(tx.keys, token)
	tx.deleted[token] = true
}

func (tx *Tx) apply() {
	for _, u := range tx.users {
		tx.c.setUser(u)
	}
	for _, k := range tx.keys {
		tx.c.setKey(k)
	}
	for token := range tx.deleted {
		tx.c.removeKey(token)
	}
}
