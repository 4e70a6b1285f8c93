package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"file-service/internal/apperr"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-process BlobStore for local runs and tests.
// Fail* hooks let callers simulate an unreachable store per operation.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject

	FailPut    bool
	FailRemove bool
	FailStat   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	s.mu.Lock()
	fail := s.FailPut
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: put %s: simulated outage", apperr.ErrStorageUnavailable, key)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", apperr.ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRemove {
		return fmt.Errorf("%w: remove %s: simulated outage", apperr.ErrStorageUnavailable, key)
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailStat {
		return false, fmt.Errorf("%w: stat %s: simulated outage", apperr.ErrStorageUnavailable, key)
	}
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (*url.URL, error) {
	q := url.Values{}
	q.Set("response-content-disposition", AttachmentDisposition(filename))
	q.Set("X-Amz-Expires", fmt.Sprintf("%d", int(ttl.Seconds())))
	return &url.URL{Scheme: "memory", Host: "blobs", Path: "/" + key, RawQuery: q.Encode()}, nil
}

func (s *MemoryStore) Open(ctx context.Context, key string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Keys returns the stored keys, for assertions.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// SetFailures toggles the simulated outages under the store lock.
func (s *MemoryStore) SetFailures(put, remove, stat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailPut, s.FailRemove, s.FailStat = put, remove, stat
}
