package engine

import (
	"sync"
	"time"

	"github.com/krisalay/fleet-agenda-cache/expiration"
	"github.com/krisalay/fleet-agenda-cache/refresh"
	"github.com/krisalay/fleet-agenda-cache/spill"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/sirupsen/logrus"
)

/*
CacheEngine is the "brain" shared by every cache of one session.
It is responsible for the "behavior" of the caches, NOT storage.

It decides:
- When data is stale or expired
- Where background refreshes run
- Where snapshots spill to
- How metrics are recorded
- Who gets told when an entry is replaced

It does NOT:
- Store entries
- Know about pages, filters or collections
*/
type CacheEngine struct {

	// Expiration decides when an entry is stale (refresh in background) or
	// expired (wait for the network), and whether a snapshot may be hydrated.
	Expiration expiration.Strategy

	// Refresh runs background refetches off the read path.
	Refresh *refresh.Runner

	// Spill is the durable spillover. It may be disabled but is never nil.
	Spill *spill.Store

	// Metrics is how we keep track of what the caches are doing.
	Metrics types.Metrics

	// Log is the session logger.
	Log logrus.FieldLogger

	// Clock returns the current time. Tests replace it.
	Clock func() time.Time

	mu        sync.Mutex
	listeners map[int]func(Update)
	nextID    int
}

/*
NewCacheEngine creates a CacheEngine. Every nil dependency is replaced with a
working default so the caches never need nil checks.
*/
func NewCacheEngine(
	exp expiration.Strategy,
	runner *refresh.Runner,
	store *spill.Store,
	metrics types.Metrics,
	log logrus.FieldLogger,
) *CacheEngine {
	if exp == nil {
		exp = &expiration.StaleWhileRevalidate{}
	}
	if runner == nil {
		runner = refresh.NewRunner(0)
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	if store == nil {
		store = spill.NewStore(nil, 0, log)
	}
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}

	return &CacheEngine{
		Expiration: exp,
		Refresh:    runner,
		Spill:      store,
		Metrics:    metrics,
		Log:        log,
		Clock:      time.Now,
		listeners:  make(map[int]func(Update)),
	}
}

// Now returns the engine's current time.
func (e *CacheEngine) Now() time.Time {
	return e.Clock()
}

// Close stops background refreshes and waits for the running ones.
func (e *CacheEngine) Close() {
	e.Refresh.Close()
}
