package spill_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/krisalay/fleet-agenda-cache/spill"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	data    map[string]string
	ttl     map[string]time.Duration
	setErr  error
	lastKey string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	f.lastKey = key
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = value.(string)
	f.ttl[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisMediumNamespacesAndExpires(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	m := spill.NewRedisMedium(fake, "fleet:session-1:", time.Hour)

	require.NoError(t, m.Write(ctx, "cached_users", "payload"))
	assert.Equal(t, "fleet:session-1:cached_users", fake.lastKey)
	assert.Equal(t, time.Hour, fake.ttl["fleet:session-1:cached_users"])

	v, ok, err := m.Read(ctx, "cached_users")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", v)

	require.NoError(t, m.Remove(ctx, "cached_users"))
	_, ok, err = m.Read(ctx, "cached_users")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisOOMIsQuotaExceeded(t *testing.T) {
	fake := newFakeRedis()
	fake.setErr = errors.New("OOM command not allowed when used memory > 'maxmemory'.")
	m := spill.NewRedisMedium(fake, "", 0)

	err := m.Write(context.Background(), "k", "v")
	assert.ErrorIs(t, err, spill.ErrQuotaExceeded)
}

func TestRedisOtherErrorsAreFailures(t *testing.T) {
	fake := newFakeRedis()
	fake.setErr = errors.New("connection refused")
	s := spill.NewStore(spill.NewRedisMedium(fake, "", 0), 0, nil)

	res := s.Save(context.Background(), "k", []int{1}, fetched, nil)
	assert.Equal(t, spill.Failed, res.Outcome)
	assert.NotErrorIs(t, res.Err, spill.ErrQuotaExceeded)
}
