package teraboxbot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/file"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/sqlite"
)

func TestOpenStore(t *testing.T) {
	t.Run("файловое хранилище", func(t *testing.T) {
		cfg := &config.Config{Storage: config.Storage{
			Driver: config.DriverFile,
			Path:   filepath.Join(t.TempDir(), "data", "store.json"),
		}}
		store, err := OpenStore(context.Background(), cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &file.Storage{}, store)

		snap, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, snap.Users)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config.Config{Storage: config.Storage{
			Driver: config.DriverSQLite,
			Path:   filepath.Join(t.TempDir(), "bot.db"),
		}}
		store, err := OpenStore(context.Background(), cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &sqlite.Storage{}, store)
	})

	t.Run("неизвестный драйвер", func(t *testing.T) {
		cfg := &config.Config{Storage: config.Storage{Driver: "mongo"}}
		_, err := OpenStore(context.Background(), cfg)
		assert.Error(t, err)
	})
}
