package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/storagetest"
)

// fakeS3 минимальный S3: бакеты и объекты в памяти, без проверки подписи.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	bucket, object, _ := strings.Cut(path, "/")

	if object == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.buckets[bucket] = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[path] = data
		f.puts++
		w.Header().Set("ETag", fmt.Sprintf("\"%d\"", f.puts))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key><BucketName>%s</BucketName></Error>`, object, bucket)
			}
			return
		}
		w.Header().Set("ETag", "\"snapshot\"")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Header().Set("Last-Modified", time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setupTestStorage(t *testing.T, fake *fakeS3) *Storage {
	t.Helper()
	srv := httptest.NewTLSServer(fake)
	t.Cleanup(srv.Close)

	s, err := newWithTransport(context.Background(), config.ObjectStorage{
		Endpoint: srv.Listener.Addr().String(),
		Bucket:   "terabox-bot",
		Object:   "snapshot.json",
		Region:   "us-east-1",
		UseSSL:   true,
	}, srv.Client().Transport)
	require.NoError(t, err)
	return s
}

func TestStorage_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return setupTestStorage(t, newFakeS3())
	})
}

func TestNew_CreatesBucket(t *testing.T) {
	fake := newFakeS3()
	setupTestStorage(t, fake)
	assert.True(t, fake.buckets["terabox-bot"])
}

func TestStorage_SaveWritesSingleObject(t *testing.T) {
	fake := newFakeS3()
	s := setupTestStorage(t, fake)

	require.NoError(t, s.Save(context.Background(), storagetest.Fixture()))
	require.NoError(t, s.Save(context.Background(), storagetest.Fixture()))

	assert.Len(t, fake.objects, 1)
	assert.Contains(t, string(fake.objects["terabox-bot/snapshot.json"]), `"ABC123"`)
}

func TestStorage_CorruptObject(t *testing.T) {
	fake := newFakeS3()
	s := setupTestStorage(t, fake)
	fake.objects["terabox-bot/snapshot.json"] = []byte("{broken")

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorage)
}
