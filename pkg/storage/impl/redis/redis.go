package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/textileio/go-tonconnect/pkg/storage"
)

const scanBatch = 100

// Adapter is a storage.Adapter backed by Redis strings.
// All keys are namespaced under a prefix so several wallets can share one server.
type Adapter struct {
	client *goredis.Client
	prefix string
}

var _ storage.Adapter = (*Adapter)(nil)

// New connects to the Redis server described by url (redis://...).
func New(ctx context.Context, url, prefix string) (*Adapter, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %s", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %s", err)
	}
	return NewWithClient(client, prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) *Adapter {
	return &Adapter{client: client, prefix: prefix}
}

func (a *Adapter) key(k string) string {
	return a.prefix + k
}

// Get implements storage.Adapter.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := a.client.Get(ctx, a.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %s", err)
	}
	return v, nil
}

// Set implements storage.Adapter.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	if err := a.client.Set(ctx, a.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %s", err)
	}
	return nil
}

// Remove implements storage.Adapter.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, a.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %s", err)
	}
	return nil
}

// Clear removes every key under the adapter prefix.
func (a *Adapter) Clear(ctx context.Context) error {
	iter := a.client.Scan(ctx, 0, a.prefix+"*", scanBatch).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning keys: %s", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %s", err)
	}
	return nil
}

// Close implements storage.Adapter.
func (a *Adapter) Close() error {
	return a.client.Close()
}
