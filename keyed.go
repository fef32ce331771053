package cache

import (
	"context"
	"time"

	"github.com/krisalay/fleet-agenda-cache/engine"
	"github.com/krisalay/fleet-agenda-cache/store"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Lookup is what a cache read returns: the entry that was served and, when a
// fetch failed but older data could be served instead, the error behind it.
type Lookup[T any] struct {
	Data      T
	FetchedAt time.Time

	// Stale is non-nil when the fetch failed and Data is the previous entry.
	Stale error
}

type loadFunc[T any] func(ctx context.Context) (T, error)

/*
keyedCache is the stale-while-revalidate core shared by EntityCache and
PagedEntityCache. It connects:
- the copy-on-write entry store
- the engine's ageing rules, refresh runner, metrics and notifications
- a per-cache hook that runs after every stored entry (persistence, paging)
*/
type keyedCache[T any] struct {
	collection string
	engine     *engine.CacheEngine
	entries    *store.Store[T]
	log        logrus.FieldLogger

	// sf makes concurrent blocking loads of one key share a single request.
	// Forced loads bypass it so they always issue a fresh request.
	sf singleflight.Group

	// stored runs after an entry is stored, on the goroutine that stored it.
	stored func(ctx context.Context, ent *types.CacheEntry[T])
}

func newKeyedCache[T any](collection string, eng *engine.CacheEngine) *keyedCache[T] {
	return &keyedCache[T]{
		collection: collection,
		engine:     eng,
		entries:    store.New[T](),
		log:        eng.Log.WithFields(logrus.Fields{"module": "cache", "collection": collection}),
	}
}

/*
get serves key.

1. Not forced and a non-expired entry exists: return it now; if it is stale,
   start a background refresh that the caller does not wait for.
2. Otherwise fetch and wait. Concurrent non-forced callers share one fetch.
3. When that fetch fails with a retryable error and any entry exists
   (expired included), serve the entry and report the failure in Stale.
   Unauthorized failures always propagate.
*/
func (c *keyedCache[T]) get(ctx context.Context, key string, force bool, load loadFunc[T]) (Lookup[T], error) {
	now := c.engine.Now()

	if cur, ok := c.entries.Get(key); ok && !force && !c.engine.Expiration.IsExpired(cur.FetchedAt, now) {
		c.engine.Metrics.Hit()
		if c.engine.Expiration.IsStale(cur.FetchedAt, now) {
			c.refreshInBackground(key, load)
		}
		return Lookup[T]{Data: cur.Data, FetchedAt: cur.FetchedAt}, nil
	}

	c.engine.Metrics.Miss()

	var (
		ent *types.CacheEntry[T]
		err error
	)
	if force {
		ent, err = c.fetch(ctx, key, load)
	} else {
		var v any
		v, err, _ = c.sf.Do(key, func() (any, error) {
			return c.fetch(ctx, key, load)
		})
		if err == nil {
			ent = v.(*types.CacheEntry[T])
		}
	}
	if err == nil {
		return Lookup[T]{Data: ent.Data, FetchedAt: ent.FetchedAt}, nil
	}

	if prev, ok := c.entries.Get(key); ok && types.IsRetryable(err) {
		c.engine.Metrics.Stale()
		c.log.WithFields(logrus.Fields{"key": key, "fetched_at": prev.FetchedAt}).
			WithError(err).Warn("fetch failed, serving cached data")
		return Lookup[T]{Data: prev.Data, FetchedAt: prev.FetchedAt, Stale: err}, nil
	}

	c.log.WithField("key", key).WithError(err).Error("fetch failed with nothing cached")
	var zero Lookup[T]
	return zero, err
}

// fetch issues one request and commits its result. The entry is stamped
// with the time the request was issued.
func (c *keyedCache[T]) fetch(ctx context.Context, key string, load loadFunc[T]) (*types.CacheEntry[T], error) {
	gen := c.entries.Generation()
	issued := c.engine.Now()
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	return c.commit(ctx, &types.CacheEntry[T]{Key: key, Data: v, FetchedAt: issued}, gen), nil
}

/*
commit stores ent unless a newer entry is already there, and returns the
entry that is visible afterwards.

A response to a request issued before the last clear is handed back to its
caller but never stored, persisted or published.
*/
func (c *keyedCache[T]) commit(ctx context.Context, ent *types.CacheEntry[T], gen uint64) *types.CacheEntry[T] {
	visible, res := c.entries.PutIfCurrent(ent, gen)
	switch res {
	case store.Cleared:
		c.engine.Metrics.Discarded()
		c.log.WithFields(logrus.Fields{"key": ent.Key, "issued_at": ent.FetchedAt}).
			Debug("discarding response issued before clear")
		return ent
	case store.Superseded:
		c.engine.Metrics.Discarded()
		c.log.WithFields(logrus.Fields{
			"key":        ent.Key,
			"issued_at":  ent.FetchedAt,
			"current_at": visible.FetchedAt,
		}).Debug("discarding response older than cached entry")
		return visible
	}

	if c.stored != nil {
		c.stored(ctx, ent)
	}
	c.engine.Publish(engine.Update{Collection: c.collection, Key: ent.Key, FetchedAt: ent.FetchedAt})
	return ent
}

// hydrate installs an entry loaded from durable storage. It is not written
// back, and it never replaces a fetched entry.
func (c *keyedCache[T]) hydrate(key string, data T, fetchedAt time.Time) bool {
	_, res := c.entries.PutIfNewer(&types.CacheEntry[T]{Key: key, Data: data, FetchedAt: fetchedAt})
	return res == store.Stored
}

func (c *keyedCache[T]) refreshInBackground(key string, load loadFunc[T]) {
	started := c.engine.Refresh.Trigger(c.collection+"/"+key, func(ctx context.Context) {
		if _, err := c.fetch(ctx, key, load); err != nil {
			c.engine.Metrics.RefreshFailed()
			c.log.WithField("key", key).WithError(err).Warn("background refresh failed")
			c.engine.Publish(engine.Update{Collection: c.collection, Key: key, Err: err})
		}
	})
	if started {
		c.engine.Metrics.Refresh()
	}
}

func (c *keyedCache[T]) peek(key string) (*types.CacheEntry[T], bool) {
	return c.entries.Get(key)
}
