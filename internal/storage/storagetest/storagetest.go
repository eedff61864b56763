// Package storagetest содержит общий набор проверок для реализаций storage.Store.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

// Fixture возвращает снимок, покрывающий все варианты полей.
func Fixture() *models.Snapshot {
	created := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	redeemedAt := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	redeemer := int64(42)

	snap := models.NewSnapshot()
	snap.Users[42] = models.User{
		ID:            42,
		Username:      "alice",
		FirstName:     "Alice",
		IsPaid:        true,
		PaidUntil:     models.NewExpiry(redeemedAt.AddDate(0, 0, 30)),
		LastResetDate: "2026-10-15",
		CreatedAt:     created,
	}
	snap.Users[7] = models.User{
		ID:            7,
		DailyCount:    3,
		LastResetDate: "2026-10-14",
		CreatedAt:     created,
	}
	snap.Users[99] = models.User{
		ID:            99,
		IsPaid:        true,
		PaidUntil:     models.ParseExpiry("not-a-date"),
		LastResetDate: "2026-10-15",
		CreatedAt:     created,
	}
	snap.Keys["ABC123"] = models.AccessKey{
		Token:        "ABC123",
		DurationDays: 30,
		RedeemedBy:   &redeemer,
		RedeemedAt:   &redeemedAt,
		CreatedAt:    created,
	}
	snap.Keys["FREE1"] = models.AccessKey{
		Token:        "FREE1",
		DurationDays: 1,
		CreatedAt:    created,
	}
	return snap
}

// Run проверяет контракт хранилища: загрузка пустого хранилища, сохранение
// с полной заменой состояния, повторная загрузка и точечные чтения.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("пустое хранилище", func(t *testing.T) {
		s := newStore(t)
		snap, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Users)
		assert.Empty(t, snap.Keys)

		_, err = s.GetUser(ctx, 1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.GetKey(ctx, "NOPE")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("сохранение и загрузка", func(t *testing.T) {
		s := newStore(t)
		want := Fixture()
		require.NoError(t, s.Save(ctx, want))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("сохранение заменяет состояние целиком", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Fixture()))

		next := models.NewSnapshot()
		next.Users[1] = models.User{ID: 1, LastResetDate: "2026-10-15", CreatedAt: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)}
		require.NoError(t, s.Save(ctx, next))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, next, got)
	})

	t.Run("точечное чтение", func(t *testing.T) {
		s := newStore(t)
		want := Fixture()
		require.NoError(t, s.Save(ctx, want))

		u, err := s.GetUser(ctx, 99)
		require.NoError(t, err)
		assert.Equal(t, want.Users[99], *u)
		require.NotNil(t, u.PaidUntil)
		assert.True(t, u.PaidUntil.Malformed())

		k, err := s.GetKey(ctx, "ABC123")
		require.NoError(t, err)
		assert.Equal(t, want.Keys["ABC123"], *k)

		_, err = s.GetUser(ctx, 1000)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
