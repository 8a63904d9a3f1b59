package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory implements Backend in process memory. Buckets survive for the
// lifetime of the Memory value.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*MemoryBucket
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*MemoryBucket)}
}

// Bucket returns the named bucket, creating it on first use.
func (m *Memory) Bucket(name string) Bucket {
	return m.MemoryBucket(name)
}

// MemoryBucket is Bucket with the concrete type, for tests that inspect
// call counts.
func (m *Memory) MemoryBucket(name string) *MemoryBucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		b = &MemoryBucket{name: name, objects: make(map[string][]byte)}
		m.buckets[name] = b
	}
	return b
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// MemoryBucket is a map-backed Bucket.
type MemoryBucket struct {
	mu      sync.Mutex
	name    string
	objects map[string][]byte

	// Puts counts successful Put and Create calls.
	Puts int
}

func (b *MemoryBucket) Name() string { return b.name }

func (b *MemoryBucket) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *MemoryBucket) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", key, ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	b.Puts++
	return nil
}

func (b *MemoryBucket) Create(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; ok {
		return fmt.Errorf("create %s: %w", key, ErrExists)
	}
	b.objects[key] = append([]byte(nil), data...)
	b.Puts++
	return nil
}

func (b *MemoryBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemoryBucket) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
