// Package session owns every cache of one signed-in user, from login to logout.
package session

import (
	"context"
	"fmt"
	"io"

	cache "github.com/krisalay/fleet-agenda-cache"
	"github.com/krisalay/fleet-agenda-cache/config"
	"github.com/krisalay/fleet-agenda-cache/engine"
	"github.com/krisalay/fleet-agenda-cache/expiration"
	"github.com/krisalay/fleet-agenda-cache/fleet"
	"github.com/krisalay/fleet-agenda-cache/orchestrator"
	"github.com/krisalay/fleet-agenda-cache/refresh"
	"github.com/krisalay/fleet-agenda-cache/spill"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

/*
Session is the cache context of one signed-in user.

Everything that used to be process-wide lives here instead: the engine, the
durable medium and the collection caches. Open builds it at login, Logout
wipes it, Close releases it.
*/
type Session struct {
	Engine  *engine.CacheEngine
	Metrics *types.CounterMetrics

	Users        *cache.EntityCache[[]fleet.User]
	Registry     *cache.EntityCache[[]fleet.Vehicle]
	VehiclePages *cache.PagedEntityCache[fleet.Vehicle]
	Bookings     *cache.PagedEntityCache[fleet.Booking]

	Agenda *orchestrator.Orchestrator[fleet.Booking, fleet.Vehicle]

	log    logrus.FieldLogger
	closer io.Closer
}

// Open builds a session against api. Caches hydrate from the configured
// durable medium as they are created.
func Open(ctx context.Context, cfg config.Config, api fleet.Requester, log logrus.FieldLogger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.WithField("module", "session")

	medium, closer, err := openMedium(cfg)
	if err != nil {
		return nil, err
	}

	metrics := &types.CounterMetrics{}
	eng := engine.NewCacheEngine(
		&expiration.StaleWhileRevalidate{TTL: cfg.CacheTTL, StaleDivisor: cfg.StaleDivisor},
		refresh.NewRunner(cfg.RefreshLimit),
		spill.NewStore(medium, int(cfg.SpillEntryMax), log),
		metrics,
		log,
	)

	s := &Session{
		Engine:  eng,
		Metrics: metrics,
		log:     log,
		closer:  closer,
	}
	s.Users = cache.NewEntityCache[[]fleet.User](ctx, "users", fleet.Users(api), eng,
		cache.WithTrim(cache.TrimEach(fleet.TrimUser)))
	s.Registry = cache.NewEntityCache[[]fleet.Vehicle](ctx, "vehicles", fleet.Registry(api), eng,
		cache.WithTrim(cache.TrimEach(fleet.TrimVehicle)))
	s.VehiclePages = cache.NewPagedEntityCache[fleet.Vehicle]("vehicle_pages", fleet.VehiclePages(api), cfg.PageSize, eng,
		cache.WithRecordTrim(fleet.TrimVehicle),
		cache.WithMaxPages[fleet.Vehicle](cfg.MaxPages),
		cache.WithEviction[fleet.Vehicle](cfg.Eviction))
	s.Bookings = cache.NewPagedEntityCache[fleet.Booking]("bookings", fleet.BookingPages(api, cfg.PageSize), cfg.PageSize, eng,
		cache.WithRecordTrim(fleet.TrimBooking),
		cache.WithMaxPages[fleet.Booking](cfg.MaxPages),
		cache.WithEviction[fleet.Booking](cfg.Eviction))

	s.Agenda = orchestrator.New(orchestrator.Config[fleet.Booking, fleet.Vehicle]{
		Pages:    s.Bookings,
		Registry: s.Registry,
		Engine:   eng,
		ToRecord: fleet.Booking.Record,
		ToEntity: fleet.Vehicle.Entity,
		Search: func(f types.Filter) string {
			if ff, ok := f.(fleet.Filter); ok {
				return ff.Search
			}
			return ""
		},
	}, fleet.Filter{})

	log.WithFields(logrus.Fields{
		"spill":     cfg.SpillBackend,
		"quota":     cfg.SpillQuota.String(),
		"ttl":       cfg.CacheTTL,
		"page_size": cfg.PageSize,
	}).Info("session opened")
	return s, nil
}

func openMedium(cfg config.Config) (spill.Medium, io.Closer, error) {
	switch cfg.SpillBackend {
	case config.SpillMemory:
		return spill.NewMemoryMedium(int(cfg.SpillQuota)), nil, nil
	case config.SpillSQLite:
		m, err := spill.OpenSQLite(cfg.SQLitePath, int(cfg.SpillQuota))
		if err != nil {
			return nil, nil, err
		}
		return m, m, nil
	case config.SpillRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return spill.NewRedisMedium(client, cfg.RedisPrefix, cfg.CacheTTL), client, nil
	default:
		return nil, nil, nil
	}
}

// Warm loads the users and the vehicle registry in the background, the way
// the console does right after sign-in. Failures are logged and forgotten.
func (s *Session) Warm() {
	s.Engine.Refresh.Go(func(ctx context.Context) {
		if _, err := s.Users.Lookup(ctx, false); err != nil {
			s.log.WithError(err).Warn("warming users failed")
		}
	})
	s.Engine.Refresh.Go(func(ctx context.Context) {
		if _, err := s.Registry.Lookup(ctx, false); err != nil {
			s.log.WithError(err).Warn("warming vehicle registry failed")
		}
	})
}

/*
Dashboard summarises the cached users and vehicle registry, fetching
whichever is missing or expired, and returns the users that pass filter.

A stale or failed refresh still yields a dashboard from the cached data.
*/
func (s *Session) Dashboard(ctx context.Context, filter fleet.UserFilter) (fleet.Dashboard, []fleet.User, error) {
	var (
		users    []fleet.User
		vehicles []fleet.Vehicle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.Users.Get(gctx, false)
		return err
	})
	g.Go(func() error {
		var err error
		vehicles, err = s.Registry.Get(gctx, false)
		return err
	})
	if err := g.Wait(); err != nil {
		return fleet.Dashboard{}, nil, err
	}
	return fleet.Summarize(users, vehicles, s.Engine.Now()), fleet.FilterUsers(users, filter), nil
}

/*
Logout drops every cached collection and its durable snapshots. The session
stays usable: the next read fetches from scratch.

The returned results are the snapshot removals that did not succeed.
*/
func (s *Session) Logout(ctx context.Context) []spill.Result {
	var failed []spill.Result
	for _, res := range []spill.Result{
		s.Users.Clear(ctx),
		s.Registry.Clear(ctx),
		s.VehiclePages.Clear(ctx),
		s.Bookings.Clear(ctx),
	} {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	s.log.WithField("failed_removals", len(failed)).Info("session caches cleared")
	return failed
}

// Close stops background refreshes and releases the durable medium.
func (s *Session) Close() error {
	s.Agenda.Close()
	s.Engine.Close()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return fmt.Errorf("close spill medium: %w", err)
		}
	}
	return nil
}
