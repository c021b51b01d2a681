package storage

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process backend for local/dev use and tests.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string][]Document
	closed      bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string][]Document)}
}

func (b *MemoryBackend) LoadAll(_ context.Context, collection string) ([]Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return cloneDocs(b.collections[collection]), nil
}

func (b *MemoryBackend) SaveAll(ctx context.Context, collection string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.collections[collection] = cloneDocs(docs)
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
