package memory

import (
	"context"
	"sync"

	"github.com/textileio/go-tonconnect/pkg/storage"
)

// Adapter is a process-local storage.Adapter. Values are copied on the way in
// and out so callers can't mutate stored state.
type Adapter struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ storage.Adapter = (*Adapter)(nil)

// New returns an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{values: map[string][]byte{}}
}

// Get implements storage.Adapter.
func (a *Adapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v, ok := a.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements storage.Adapter.
func (a *Adapter) Set(_ context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.values[key] = append([]byte(nil), value...)
	return nil
}

// Remove implements storage.Adapter.
func (a *Adapter) Remove(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.values, key)
	return nil
}

// Clear implements storage.Adapter.
func (a *Adapter) Clear(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.values = map[string][]byte{}
	return nil
}

// Close implements storage.Adapter.
func (a *Adapter) Close() error {
	return nil
}
