package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/krisalay/fleet-agenda-cache/engine"
	"github.com/krisalay/fleet-agenda-cache/eviction"
	"github.com/krisalay/fleet-agenda-cache/spill"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/sirupsen/logrus"
)

// ErrPageOutOfRange is returned for page numbers below 1.
var ErrPageOutOfRange = errors.New("cache: page out of range")

// PagedOption configures a PagedEntityCache.
type PagedOption[T any] func(*PagedEntityCache[T])

// WithRecordTrim sets the per-record projection applied before pages are
// spilled to durable storage.
func WithRecordTrim[T any](trim func(T) T) PagedOption[T] {
	return func(c *PagedEntityCache[T]) { c.trim = trim }
}

// WithMaxPages bounds how many pages, across all filters, are kept in memory.
// Zero means unbounded.
func WithMaxPages[T any](n int) PagedOption[T] {
	return func(c *PagedEntityCache[T]) { c.maxPages = n }
}

// WithEviction selects which pages go first when the page bound is hit or a
// snapshot must shrink. The default is LRU.
func WithEviction[T any](pt eviction.PolicyType) PagedOption[T] {
	return func(c *PagedEntityCache[T]) { c.policy = pt }
}

/*
PagedEntityCache caches a server-paginated, filterable collection. Every
(page, filter signature) pair is an independent entry, so switching filters
never invalidates the pages cached under another signature.

Each signature spills to its own durable key holding all of its pages:

	{"data": {"1": [...], "2": [...]}, "timestamp": <oldest page>, "total": <n>}

Signatures are hydrated lazily, the first time they are asked for.
*/
type PagedEntityCache[T any] struct {
	name     string
	fetcher  types.PageFetcher[T]
	pageSize int
	core     *keyedCache[types.Page[T]]
	trim     func(T) T
	maxPages int
	policy   eviction.PolicyType

	// mu guards everything below and serialises snapshot writes.
	mu        sync.Mutex
	evict     eviction.Policy
	totals    map[string]int
	lastPage  map[string]int
	hydrated  map[string]bool
	persisted map[string]bool
}

// NewPagedEntityCache builds an empty paged cache. pageSize is the fixed page
// size the server uses.
func NewPagedEntityCache[T any](
	name string,
	fetcher types.PageFetcher[T],
	pageSize int,
	eng *engine.CacheEngine,
	opts ...PagedOption[T],
) *PagedEntityCache[T] {
	if pageSize < 1 {
		pageSize = 1
	}
	c := &PagedEntityCache[T]{
		name:     name,
		fetcher:  fetcher,
		pageSize: pageSize,
		core:     newKeyedCache[types.Page[T]](name, eng),
		policy:   eviction.LRU,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := eviction.NewEvictionPolicy(c.policy); err != nil {
		c.core.log.WithError(err).Warn("falling back to LRU eviction")
		c.policy = eviction.LRU
	}
	c.reset()
	c.core.stored = c.onStored
	return c
}

func (c *PagedEntityCache[T]) reset() {
	c.evict, _ = eviction.NewEvictionPolicy(c.policy)
	c.totals = make(map[string]int)
	c.lastPage = make(map[string]int)
	c.hydrated = make(map[string]bool)
	c.persisted = make(map[string]bool)
}

// Name returns the collection name.
func (c *PagedEntityCache[T]) Name() string { return c.name }

// PageSize returns the fixed page size.
func (c *PagedEntityCache[T]) PageSize() int { return c.pageSize }

// Key returns the cache key of one page under one filter. It matches the Key
// of engine updates published by this cache.
func (c *PagedEntityCache[T]) Key(page int, filter types.Filter) string {
	return pageKey(filter.Signature(), page)
}

func pageKey(sig string, page int) string {
	return sig + "#" + strconv.Itoa(page)
}

func splitPageKey(key string) (string, int) {
	i := strings.LastIndexByte(key, '#')
	if i < 0 {
		return key, 0
	}
	page, _ := strconv.Atoi(key[i+1:])
	return key[:i], page
}

func (c *PagedEntityCache[T]) spillKey(sig string) string {
	return "cached_" + c.name + "?" + sig
}

func (c *PagedEntityCache[T]) indexKey() string {
	return "cached_" + c.name + "#signatures"
}

// Get returns one page.
func (c *PagedEntityCache[T]) Get(ctx context.Context, page int, filter types.Filter, force bool) (types.Page[T], error) {
	l, err := c.Lookup(ctx, page, filter, force)
	return l.Data, err
}

// Lookup is Get with the entry timestamp and any swallowed fetch error.
func (c *PagedEntityCache[T]) Lookup(ctx context.Context, page int, filter types.Filter, force bool) (Lookup[types.Page[T]], error) {
	if page < 1 {
		return Lookup[types.Page[T]]{}, fmt.Errorf("page %d: %w", page, ErrPageOutOfRange)
	}
	sig := filter.Signature()
	c.ensureHydrated(ctx, sig)

	key := pageKey(sig, page)
	l, err := c.core.get(ctx, key, force, func(ctx context.Context) (types.Page[T], error) {
		return c.fetcher.FetchPage(ctx, page, filter)
	})
	if err != nil {
		if errors.Is(err, types.ErrUnauthorized) {
			c.drop(ctx, key)
		}
		return l, err
	}

	c.mu.Lock()
	c.evict.OnGet(key)
	c.mu.Unlock()
	return l, nil
}

// Peek returns a cached page without fetching or refreshing.
func (c *PagedEntityCache[T]) Peek(page int, filter types.Filter) (Lookup[types.Page[T]], bool) {
	ent, ok := c.core.peek(pageKey(filter.Signature(), page))
	if !ok {
		return Lookup[types.Page[T]]{}, false
	}
	return Lookup[types.Page[T]]{Data: ent.Data, FetchedAt: ent.FetchedAt}, true
}

/*
TotalPages returns the page count for filter and whether it is known.

It comes from the last reported total item count and the page size. When
the server reports no total, a page that came back shorter than the page
size is taken to be the last one.
*/
func (c *PagedEntityCache[T]) TotalPages(filter types.Filter) (int, bool) {
	sig := filter.Signature()

	c.mu.Lock()
	defer c.mu.Unlock()

	if total, ok := c.totals[sig]; ok {
		return (total + c.pageSize - 1) / c.pageSize, true
	}
	if last, ok := c.lastPage[sig]; ok {
		return last, true
	}
	return 0, false
}

// Clear drops every cached page and every durable snapshot this cache wrote.
func (c *PagedEntityCache[T]) Clear(ctx context.Context) spill.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sp := c.core.engine.Spill
	sigs := c.loadIndex(ctx)
	for sig := range c.persisted {
		sigs[sig] = true
	}
	for sig := range sigs {
		sp.Remove(ctx, c.spillKey(sig))
	}

	c.core.entries.Clear()
	c.reset()
	return sp.Remove(ctx, c.indexKey())
}

// onStored runs after every stored page, fetched or refreshed.
func (c *PagedEntityCache[T]) onStored(ctx context.Context, ent *types.CacheEntry[types.Page[T]]) {
	sig, page := splitPageKey(ent.Key)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A Clear or a newer page may have landed while we waited for the lock.
	if cur, ok := c.core.peek(ent.Key); !ok || cur != ent {
		return
	}
	c.track(ent.Key, sig, page, ent.Data)
	c.enforceBound(ent.Key)
	c.persist(ctx, sig)
}

// drop forgets a page the server refused to serve and rewrites the snapshot
// of its signature without it.
func (c *PagedEntityCache[T]) drop(ctx context.Context, key string) {
	if _, ok := c.core.peek(key); !ok {
		return
	}
	sig, _ := splitPageKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.core.entries.Delete(key)
	c.evict.Remove(key)
	c.core.log.WithField("key", key).Debug("dropped unauthorized page")
	c.persist(ctx, sig)
}

func (c *PagedEntityCache[T]) track(key, sig string, page int, p types.Page[T]) {
	c.evict.OnPut(key)
	if p.Total >= 0 {
		c.totals[sig] = p.Total
		delete(c.lastPage, sig)
		return
	}
	if len(p.Items) < c.pageSize {
		if last, ok := c.lastPage[sig]; !ok || page < last {
			c.lastPage[sig] = page
		}
	} else if last, ok := c.lastPage[sig]; ok && page >= last {
		// The page we thought was last came back full: the collection grew.
		delete(c.lastPage, sig)
	}
}

func (c *PagedEntityCache[T]) enforceBound(keep string) {
	if c.maxPages <= 0 {
		return
	}
	for c.evict.Len() > c.maxPages {
		victim := c.evict.Evict()
		if victim == "" {
			return
		}
		if victim == keep {
			c.evict.OnPut(keep)
			continue
		}
		c.core.entries.Delete(victim)
		c.core.engine.Metrics.Eviction()
		c.core.log.WithField("key", victim).Debug("evicted page")
	}
}

// persist writes the snapshot for one signature, dropping the pages the
// eviction policy would drop first until it fits the per-entry cap.
func (c *PagedEntityCache[T]) persist(ctx context.Context, sig string) {
	sp := c.core.engine.Spill
	if !sp.Enabled() {
		return
	}

	entries := c.core.entries.Snapshot()
	var keys []string
	for _, k := range c.evict.Order() {
		if s, _ := splitPageKey(k); s == sig {
			if _, ok := entries[k]; ok {
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		if c.persisted[sig] {
			sp.Remove(ctx, c.spillKey(sig))
		}
		return
	}
	var total *int
	if t, ok := c.totals[sig]; ok {
		total = &t
	}

	for len(keys) > 0 {
		payload, err := c.encode(entries, keys, total)
		if err != nil {
			c.core.log.WithField("signature", sig).WithError(err).Warn("snapshot encode failed")
			c.core.engine.Metrics.SpillFailed()
			return
		}
		if sp.Fits(len(payload)) {
			if res := sp.Write(ctx, c.spillKey(sig), payload); !res.OK() {
				c.core.engine.Metrics.SpillFailed()
				return
			}
			if !c.persisted[sig] {
				c.persisted[sig] = true
				c.writeIndex(ctx)
			}
			return
		}
		keys = keys[1:]
	}

	c.core.log.WithField("signature", sig).Warn("no page fits the snapshot cap, skipping persistence")
	c.core.engine.Metrics.SpillFailed()
}

func (c *PagedEntityCache[T]) encode(entries map[string]*types.CacheEntry[types.Page[T]], keys []string, total *int) ([]byte, error) {
	pages := make(map[string][]T, len(keys))
	var oldest time.Time
	for _, k := range keys {
		ent := entries[k]
		_, page := splitPageKey(k)
		items := ent.Data.Items
		if c.trim != nil {
			items = TrimEach(c.trim)(items)
		}
		pages[strconv.Itoa(page)] = items
		if oldest.IsZero() || ent.FetchedAt.Before(oldest) {
			oldest = ent.FetchedAt
		}
	}
	return spill.Encode(pages, oldest, total)
}

func (c *PagedEntityCache[T]) writeIndex(ctx context.Context) {
	sigs := c.loadIndex(ctx)
	for sig := range c.persisted {
		sigs[sig] = true
	}
	list := make([]string, 0, len(sigs))
	for sig := range sigs {
		list = append(list, sig)
	}
	sort.Strings(list)
	if res := c.core.engine.Spill.Save(ctx, c.indexKey(), list, c.core.engine.Now(), nil); !res.OK() {
		c.core.engine.Metrics.SpillFailed()
	}
}

func (c *PagedEntityCache[T]) loadIndex(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	snap, ok := c.core.engine.Spill.Load(ctx, c.indexKey())
	if !ok {
		return out
	}
	list, err := spill.Decode[[]string](snap)
	if err != nil {
		return out
	}
	for _, sig := range list {
		out[sig] = true
	}
	return out
}

func (c *PagedEntityCache[T]) ensureHydrated(ctx context.Context, sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hydrated[sig] {
		return
	}
	c.hydrated[sig] = true

	eng := c.core.engine
	snap, ok := eng.Spill.Load(ctx, c.spillKey(sig))
	if !ok {
		return
	}
	log := c.core.log.WithFields(logrus.Fields{"signature": sig, "fetched_at": snap.FetchedAt()})

	if !eng.Expiration.AcceptSnapshot(snap.FetchedAt(), eng.Now()) {
		log.Debug("snapshot older than TTL, discarding")
		eng.Spill.Remove(ctx, c.spillKey(sig))
		return
	}
	pages, err := spill.Decode[map[string][]T](snap)
	if err != nil {
		log.WithError(err).Warn("snapshot does not decode, discarding")
		eng.Spill.Remove(ctx, c.spillKey(sig))
		return
	}

	total := -1
	if snap.Total != nil {
		total = *snap.Total
	}
	for raw, items := range pages {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			continue
		}
		key := pageKey(sig, page)
		p := types.Page[T]{Items: items, Total: total}
		if c.core.hydrate(key, p, snap.FetchedAt()) {
			c.track(key, sig, page, p)
		}
	}
	c.persisted[sig] = true
	log.WithField("pages", len(pages)).Debug("hydrated from durable storage")
}

