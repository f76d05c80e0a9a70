// Package memadapter implements a StorageAdapter backed by an in-process
// map, useful for tests and for embedding apps that want persistence
// semantics (load-on-create, flush-on-write) without a real durable
// backend.
package memadapter

import (
	"context"
	"sync"

	"github.com/emberdb/ember/internal/persistence"
)

// Adapter is a StorageAdapter backed by a guarded map[string][]byte.
type Adapter struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New constructs an empty Adapter.
func New() *Adapter {
	return &Adapter{blobs: map[string][]byte{}}
}

func (a *Adapter) Load(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	blob, ok := a.blobs[key]
	if !ok {
		return nil, &persistence.NotFoundError{Key: key}
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (a *Adapter) Save(_ context.Context, key string, blob []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, len(blob))
	copy(out, blob)
	a.blobs[key] = out
	return nil
}
