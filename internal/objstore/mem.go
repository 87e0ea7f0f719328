package objstore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrBucketMissing = errors.New("bucket does not exist")

// memStore is an in-process Store used by tests and local development runs
// without an S3 endpoint configured.
type memStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func NewMemory() Store {
	return &memStore{buckets: map[string]map[string][]byte{}}
}

func (m *memStore) GetObject(_ context.Context, bucket string, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objects, found := m.buckets[bucket]
	if !found {
		return nil, ErrBucketMissing
	}

	body, ok := objects[key]
	if !ok {
		return nil, nil
	}

	out := make([]byte, len(body))
	copy(out, body)

	return out, nil
}

func (m *memStore) PutObject(_ context.Context, bucket string, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	objects, found := m.buckets[bucket]
	if !found {
		return ErrBucketMissing
	}

	stored := make([]byte, len(body))
	copy(stored, body)
	objects[key] = stored

	return nil
}

func (m *memStore) ListBuckets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

func (m *memStore) ListObjects(_ context.Context, bucket string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objects, found := m.buckets[bucket]
	if !found {
		return nil, ErrBucketMissing
	}

	listing := make([]Object, 0, len(objects))
	for key, body := range objects {
		listing = append(listing, Object{Key: key, Size: int64(len(body))})
	}

	sort.Slice(listing, func(i, j int) bool { return listing[i].Key < listing[j].Key })

	return listing, nil
}

func (m *memStore) DeleteObject(_ context.Context, bucket string, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	objects, found := m.buckets[bucket]
	if !found {
		return ErrBucketMissing
	}

	delete(objects, key)

	return nil
}

func (m *memStore) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.buckets[bucket]; !found {
		m.buckets[bucket] = map[string][]byte{}
	}

	return nil
}
