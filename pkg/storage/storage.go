package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates that the key has no value.
var ErrNotFound = errors.New("key not found")

// Adapter is a key-value store that only guarantees atomic whole-value reads and writes.
// It offers no transactions nor compare-and-swap; callers needing read-modify-write
// atomicity must serialize access themselves.
type Adapter interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value stored at key.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes the key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear removes every key owned by the adapter.
	Clear(ctx context.Context) error
	// Close releases the underlying resources.
	Close() error
}

// Get reads key from the adapter and decodes it with the codec.
// The second return value is false when the key doesn't exist.
func Get[T any](ctx context.Context, a Adapter, c Codec, key string) (T, bool, error) {
	var zero T
	data, err := a.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("get %s: %w", key, err)
	}

	var v T
	if err := c.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return v, true, nil
}

// Set encodes v with the codec and writes it at key.
func Set[T any](ctx context.Context, a Adapter, c Codec, key string, v T) error {
	data, err := c.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := a.Set(ctx, key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
