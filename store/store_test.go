package store_test

import (
	"sync"
	"testing"
	"time"

	"github.com/krisalay/fleet-agenda-cache/store"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func entry(key, data string, at time.Time) *types.CacheEntry[string] {
	return &types.CacheEntry[string]{Key: key, Data: data, FetchedAt: at}
}

func TestPutAndGet(t *testing.T) {
	s := store.New[string]()

	_, res := s.PutIfNewer(entry("users", "v1", t0))
	require.Equal(t, store.Stored, res)

	got, ok := s.Get("users")
	require.True(t, ok)
	assert.Equal(t, "v1", got.Data)
	assert.Equal(t, 1, s.Size())
}

func TestOlderWriteIsSuperseded(t *testing.T) {
	s := store.New[string]()

	s.PutIfNewer(entry("k", "forced", t0.Add(time.Second)))
	visible, res := s.PutIfNewer(entry("k", "background", t0))

	assert.Equal(t, store.Superseded, res)
	assert.Equal(t, "forced", visible.Data)

	got, _ := s.Get("k")
	assert.Equal(t, "forced", got.Data)
}

func TestEqualTimestampReplaces(t *testing.T) {
	s := store.New[string]()

	s.PutIfNewer(entry("k", "a", t0))
	_, res := s.PutIfNewer(entry("k", "b", t0))

	assert.Equal(t, store.Stored, res)
	got, _ := s.Get("k")
	assert.Equal(t, "b", got.Data)
}

func TestSnapshotIsNotAffectedByLaterWrites(t *testing.T) {
	s := store.New[string]()
	s.PutIfNewer(entry("a", "1", t0))

	snap := s.Snapshot()
	s.PutIfNewer(entry("b", "2", t0))
	s.Delete("a")

	assert.Len(t, snap, 1)
	assert.Contains(t, snap, "a")
	assert.Equal(t, 1, s.Size())
}

func TestDeleteAndClear(t *testing.T) {
	s := store.New[string]()
	s.PutIfNewer(entry("a", "1", t0))
	s.PutIfNewer(entry("b", "2", t0))
	s.PutIfNewer(entry("c", "3", t0))

	s.Delete("a", "missing")
	assert.Equal(t, 2, s.Size())

	s.Clear()
	assert.Equal(t, 0, s.Size())
	_, ok := s.Get("b")
	assert.False(t, ok)
}

func TestWriteIssuedBeforeClearIsDropped(t *testing.T) {
	s := store.New[string]()
	s.PutIfNewer(entry("k", "old", t0))

	gen := s.Generation()
	s.Clear()

	visible, res := s.PutIfCurrent(entry("k", "late", t0.Add(time.Second)), gen)
	assert.Equal(t, store.Cleared, res)
	assert.Nil(t, visible)
	assert.Equal(t, 0, s.Size())

	_, res = s.PutIfCurrent(entry("k", "fresh", t0.Add(time.Second)), s.Generation())
	assert.Equal(t, store.Stored, res)
}

func TestConcurrentWritersKeepNewest(t *testing.T) {
	s := store.New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.PutIfNewer(&types.CacheEntry[int]{Key: "k", Data: i, FetchedAt: t0.Add(time.Duration(i) * time.Millisecond)})
		}(i)
	}
	wg.Wait()

	got, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, 49, got.Data)
}
