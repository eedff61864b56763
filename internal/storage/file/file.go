// Package file реализует хранилище снимка в локальном JSON-файле.
// Запись выполняется через временный файл и rename, поэтому на диске всегда
// лежит либо предыдущий, либо новый полный снимок.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Storage файловое хранилище снимка. Последний прочитанный или записанный
// снимок держится в памяти, пока размер и время изменения файла не меняются.
type Storage struct {
	path     string
	compress bool

	mu    sync.Mutex
	snap  *models.Snapshot
	stamp fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

func stampOf(fi os.FileInfo) fileStamp {
	return fileStamp{size: fi.Size(), modTime: fi.ModTime()}
}

// New создаёт каталог для файла снимка. Если compress включён, снимок
// сжимается zstd; чтение распознаёт оба формата.
func New(path string, compress bool) (*Storage, error) {
	const op = "storage.file.New"
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return &Storage{path: path, compress: compress}, nil
}

// Load читает снимок. Отсутствующий файл означает пустое хранилище.
func (s *Storage) Load(_ context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return snap.Clone(), nil
}

// current возвращает разобранный снимок, перечитывая файл только после его
// изменения. Вызывается под mu, результат нельзя изменять.
func (s *Storage) current() (*models.Snapshot, error) {
	const op = "storage.file.Load"
	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.snap = nil
		return models.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if s.snap != nil && s.stamp == stampOf(fi) {
		return s.snap, nil
	}

	snap, err := s.read()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	s.snap, s.stamp = snap, stampOf(fi)
	return snap, nil
}

func (s *Storage) read() (*models.Snapshot, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.NewSnapshot(), nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(len(zstdMagic)); bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	snap := models.NewSnapshot()
	if err := json.NewDecoder(r).Decode(snap); err != nil {
		if errors.Is(err, io.EOF) {
			return models.NewSnapshot(), nil
		}
		return nil, err
	}
	if snap.Users == nil {
		snap.Users = make(map[int64]models.User)
	}
	if snap.Keys == nil {
		snap.Keys = make(map[string]models.AccessKey)
	}
	return snap, nil
}

// Save записывает снимок во временный файл и атомарно заменяет им основной.
func (s *Storage) Save(_ context.Context, snap *models.Snapshot) (err error) {
	const op = "storage.file.Save"
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = s.encode(tmp, snap); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	s.snap = nil
	if fi, statErr := os.Stat(s.path); statErr == nil {
		s.snap, s.stamp = snap.Clone(), stampOf(fi)
	}
	return nil
}

func (s *Storage) encode(w io.Writer, snap *models.Snapshot) error {
	if !s.compress {
		return json.NewEncoder(w).Encode(snap)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// GetUser читает пользователя из снимка на диске.
func (s *Storage) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	u, err := storage.UserFromSnapshot(snap, id)
	if err != nil {
		return nil, err
	}
	c := u.Clone()
	return &c, nil
}

// GetKey читает ключ из снимка на диске.
func (s *Storage) GetKey(_ context.Context, token string) (*models.AccessKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	k, err := storage.KeyFromSnapshot(snap, token)
	if err != nil {
		return nil, err
	}
	c := k.Clone()
	return &c, nil
}

// Close ничего не делает: файл не держится открытым между операциями.
func (s *Storage) Close() error {
	return nil
}
