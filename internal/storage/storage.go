// Package storage описывает постоянное хранилище пользователей и ключей доступа.
// Конкретные реализации находятся во вложенных пакетах: file, sqlite,
// postgresql, redis и objectstore.
package storage

import (
	"context"
	"errors"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

var (
	// ErrStorage оборачивает любую ошибку ввода-вывода хранилища.
	ErrStorage = errors.New("storage error")
	// ErrNotFound возвращается точечным чтением, если записи нет.
	ErrNotFound = errors.New("record not found")
)

// Store постоянное хранилище. Save полностью заменяет сохранённое состояние
// и атомарен на уровне всего снимка.
type Store interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, snap *models.Snapshot) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetKey(ctx context.Context, token string) (*models.AccessKey, error)
	Close() error
}

// UserFromSnapshot точечное чтение пользователя для хранилищ, которые
// умеют только загружать снимок целиком.
func UserFromSnapshot(snap *models.Snapshot, id int64) (*models.User, error) {
	u, ok := snap.Users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// KeyFromSnapshot точечное чтение ключа из снимка.
func KeyFromSnapshot(snap *models.Snapshot, token string) (*models.AccessKey, error) {
	k, ok := snap.Keys[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}
