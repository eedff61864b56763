// Package redis хранит снимок в двух хешах Redis: пользователи и ключи.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

// Storage хранилище на Redis.
type Storage struct {
	Db       *goredis.Client
	usersKey string
	keysKey  string
}

// New подключается к Redis и проверяет соединение.
func New(ctx context.Context, cfg config.RedisConnection) (*Storage, error) {
	const op = "storage.redis.New"
	db := goredis.NewClient(&goredis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "terabox"
	}
	return &Storage{
		Db:       db,
		usersKey: prefix + ":users",
		keysKey:  prefix + ":keys",
	}, nil
}

// Load читает оба хеша.
func (s *Storage) Load(ctx context.Context) (*models.Snapshot, error) {
	const op = "storage.redis.Load"
	users, err := s.Db.HGetAll(ctx, s.usersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	keys, err := s.Db.HGetAll(ctx, s.keysKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	snap := models.NewSnapshot()
	for field, raw := range users {
		var u models.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("%s: user %s: %w: %w", op, field, storage.ErrStorage, err)
		}
		snap.Users[u.ID] = u
	}
	for field, raw := range keys {
		var k models.AccessKey
		if err := json.Unmarshal([]byte(raw), &k); err != nil {
			return nil, fmt.Errorf("%s: key %s: %w: %w", op, field, storage.ErrStorage, err)
		}
		snap.Keys[k.Token] = k
	}
	return snap, nil
}

// Save заменяет оба хеша в одной транзакции MULTI/EXEC.
func (s *Storage) Save(ctx context.Context, snap *models.Snapshot) error {
	const op = "storage.redis.Save"
	users := make(map[string]any, len(snap.Users))
	for id, u := range snap.Users {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
		users[strconv.FormatInt(id, 10)] = data
	}
	keys := make(map[string]any, len(snap.Keys))
	for token, k := range snap.Keys {
		data, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
		keys[token] = data
	}

	_, err := s.Db.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.usersKey, s.keysKey)
		if len(users) > 0 {
			pipe.HSet(ctx, s.usersKey, users)
		}
		if len(keys) > 0 {
			pipe.HSet(ctx, s.keysKey, keys)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return nil
}

// GetUser читает одного пользователя.
func (s *Storage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.redis.GetUser"
	var u models.User
	if err := s.hget(ctx, s.usersKey, strconv.FormatInt(id, 10), &u); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// GetKey читает один ключ.
func (s *Storage) GetKey(ctx context.Context, token string) (*models.AccessKey, error) {
	const op = "storage.redis.GetKey"
	var k models.AccessKey
	if err := s.hget(ctx, s.keysKey, token, &k); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &k, nil
}

// Close закрывает клиент.
func (s *Storage) Close() error {
	return s.Db.Close()
}

func (s *Storage) hget(ctx context.Context, key, field string, result any) error {
	val, err := s.Db.HGet(ctx, key, field).Result()
	if errors.Is(err, goredis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorage, err)
	}
	if err := json.Unmarshal([]byte(val), result); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorage, err)
	}
	return nil
}
