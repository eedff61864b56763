// Package objectstore хранит снимок одним JSON-объектом в S3-совместимом бакете.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

// Storage хранилище в объектном хранилище. PUT объекта атомарен,
// поэтому снимок всегда либо старый, либо новый целиком.
type Storage struct {
	client     *minio.Client
	bucketName string
	objectName string
}

// New создаёт клиента и бакет, если его ещё нет.
func New(ctx context.Context, cfg config.ObjectStorage) (*Storage, error) {
	return newWithTransport(ctx, cfg, nil)
}

func newWithTransport(ctx context.Context, cfg config.ObjectStorage, transport http.RoundTripper) (*Storage, error) {
	const op = "storage.objectstore.New"
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: check bucket: %w: %w", op, storage.ErrStorage, err)
	}
	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: create bucket: %w: %w", op, storage.ErrStorage, err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.Bucket,
		objectName: cfg.Object,
	}, nil
}

// Load скачивает снимок. Отсутствующий объект означает пустое хранилище.
func (s *Storage) Load(ctx context.Context) (*models.Snapshot, error) {
	const op = "storage.objectstore.Load"
	object, err := s.client.GetObject(ctx, s.bucketName, s.objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return models.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	snap := models.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if snap.Users == nil {
		snap.Users = make(map[int64]models.User)
	}
	if snap.Keys == nil {
		snap.Keys = make(map[string]models.AccessKey)
	}
	return snap, nil
}

// Save загружает снимок целиком.
func (s *Storage) Save(ctx context.Context, snap *models.Snapshot) error {
	const op = "storage.objectstore.Save"
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, s.objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return nil
}

// GetUser читает пользователя из загруженного снимка.
func (s *Storage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return storage.UserFromSnapshot(snap, id)
}

// GetKey читает ключ из загруженного снимка.
func (s *Storage) GetKey(ctx context.Context, token string) (*models.AccessKey, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return storage.KeyFromSnapshot(snap, token)
}

// Close ничего не делает: клиент minio не держит соединений вне запросов.
func (s *Storage) Close() error {
	return nil
}
