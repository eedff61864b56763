package teraboxbot

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/file"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/objectstore"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/postgresql"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/redis"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/sqlite"
)

// OpenStore открывает постоянное хранилище, выбранное в cfg.Storage.Driver.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	const op = "app.OpenStore"
	var (
		store storage.Store
		err   error
	)
	switch cfg.Storage.Driver {
	case config.DriverFile:
		store, err = file.New(cfg.Storage.Path, cfg.Storage.Compress)
	case config.DriverSQLite:
		store, err = sqlite.New(cfg.Storage.Path)
	case config.DriverPostgres:
		store, err = postgresql.New(ctx, cfg.Storage.ConnectionString, cfg.Storage.MigrationsPath)
	case config.DriverRedis:
		store, err = redis.New(ctx, cfg.RedisConnection)
	case config.DriverS3:
		store, err = objectstore.New(ctx, cfg.ObjectStorage)
	default:
		return nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, nil
}
