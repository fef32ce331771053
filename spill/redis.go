package spill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCmdable is the subset of the go-redis client the medium needs.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

/*
RedisMedium stores snapshots in Redis.

The quota is whatever maxmemory the server enforces: an OOM rejection is
reported as ErrQuotaExceeded. Keys are namespaced with Prefix and expire
after Expiry so abandoned sessions do not pin memory forever.
*/
type RedisMedium struct {
	client redisCmdable
	prefix string
	expiry time.Duration
}

// NewRedisMedium wraps an existing client. expiry of zero keeps keys forever.
func NewRedisMedium(client redisCmdable, prefix string, expiry time.Duration) *RedisMedium {
	return &RedisMedium{client: client, prefix: prefix, expiry: expiry}
}

func (m *RedisMedium) Read(ctx context.Context, key string) (string, bool, error) {
	v, err := m.client.Get(ctx, m.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %q: %w", key, err)
	}
	return v, true, nil
}

func (m *RedisMedium) Write(ctx context.Context, key, value string) error {
	err := m.client.Set(ctx, m.prefix+key, value, m.expiry).Err()
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "OOM") {
		return fmt.Errorf("write %q: %w", key, ErrQuotaExceeded)
	}
	return fmt.Errorf("write %q: %w", key, err)
}

func (m *RedisMedium) Remove(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}
