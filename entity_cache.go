package cache

import (
	"context"
	"sync"

	"github.com/krisalay/fleet-agenda-cache/engine"
	"github.com/krisalay/fleet-agenda-cache/spill"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/sirupsen/logrus"
)

// EntityOption configures an EntityCache.
type EntityOption[T any] func(*EntityCache[T])

// WithTrim sets the projection applied before a value is spilled to durable
// storage. Without it the full value is persisted.
func WithTrim[T any](trim func(T) T) EntityOption[T] {
	return func(c *EntityCache[T]) { c.trim = trim }
}

// TrimEach lifts a per-record projection to a whole collection.
func TrimEach[E any](trim func(E) E) func([]E) []E {
	return func(in []E) []E {
		out := make([]E, len(in))
		for i, e := range in {
			out[i] = trim(e)
		}
		return out
	}
}

/*
EntityCache caches one whole collection (users, the vehicle registry, ...)
with stale-while-revalidate semantics and write-through to durable storage.

The spill key is "cached_<name>". At construction the cache tries to hydrate
from it; snapshots older than TTL are discarded.
*/
type EntityCache[T any] struct {
	name    string
	fetcher types.Fetcher[T]
	core    *keyedCache[T]
	trim    func(T) T

	// spillMu keeps snapshot writes in entry order.
	spillMu sync.Mutex
}

// NewEntityCache builds the cache and hydrates it from durable storage.
func NewEntityCache[T any](
	ctx context.Context,
	name string,
	fetcher types.Fetcher[T],
	eng *engine.CacheEngine,
	opts ...EntityOption[T],
) *EntityCache[T] {
	c := &EntityCache[T]{
		name:    name,
		fetcher: fetcher,
		core:    newKeyedCache[T](name, eng),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.core.stored = c.persist
	c.hydrate(ctx)
	return c
}

// Name returns the collection name.
func (c *EntityCache[T]) Name() string { return c.name }

func (c *EntityCache[T]) spillKey() string { return "cached_" + c.name }

// Get returns the collection. force skips the cache and waits for a fresh fetch.
func (c *EntityCache[T]) Get(ctx context.Context, force bool) (T, error) {
	l, err := c.Lookup(ctx, force)
	return l.Data, err
}

// Lookup is Get with the entry timestamp and any swallowed fetch error.
func (c *EntityCache[T]) Lookup(ctx context.Context, force bool) (Lookup[T], error) {
	return c.core.get(ctx, c.name, force, c.fetcher.Fetch)
}

// Peek returns what is cached right now without fetching or refreshing.
func (c *EntityCache[T]) Peek() (Lookup[T], bool) {
	ent, ok := c.core.peek(c.name)
	if !ok {
		return Lookup[T]{}, false
	}
	return Lookup[T]{Data: ent.Data, FetchedAt: ent.FetchedAt}, true
}

// Clear drops the cached entry and its durable snapshot.
func (c *EntityCache[T]) Clear(ctx context.Context) spill.Result {
	c.spillMu.Lock()
	defer c.spillMu.Unlock()

	c.core.entries.Clear()
	return c.core.engine.Spill.Remove(ctx, c.spillKey())
}

func (c *EntityCache[T]) persist(ctx context.Context, ent *types.CacheEntry[T]) {
	c.spillMu.Lock()
	defer c.spillMu.Unlock()

	// A newer entry may have landed while we waited for the lock; it has
	// persisted (or will persist) itself.
	if cur, ok := c.core.peek(c.name); !ok || cur != ent {
		return
	}

	data := ent.Data
	if c.trim != nil {
		data = c.trim(data)
	}
	if res := c.core.engine.Spill.Save(ctx, c.spillKey(), data, ent.FetchedAt, nil); !res.OK() {
		c.core.engine.Metrics.SpillFailed()
	}
}

func (c *EntityCache[T]) hydrate(ctx context.Context) {
	eng := c.core.engine
	snap, ok := eng.Spill.Load(ctx, c.spillKey())
	if !ok {
		return
	}
	log := c.core.log.WithFields(logrus.Fields{"key": c.spillKey(), "fetched_at": snap.FetchedAt()})

	if !eng.Expiration.AcceptSnapshot(snap.FetchedAt(), eng.Now()) {
		log.Debug("snapshot older than TTL, discarding")
		eng.Spill.Remove(ctx, c.spillKey())
		return
	}
	data, err := spill.Decode[T](snap)
	if err != nil {
		log.WithError(err).Warn("snapshot does not decode, discarding")
		eng.Spill.Remove(ctx, c.spillKey())
		return
	}
	if c.core.hydrate(c.name, data, snap.FetchedAt()) {
		log.Debug("hydrated from durable storage")
	}
}
