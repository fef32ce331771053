package api

import (
	"context"

	cache "github.com/krisalay/fleet-agenda-cache"
	"github.com/krisalay/fleet-agenda-cache/types"
)

/*
Collection is the PUBLIC read contract of a whole-collection cache.
Consumers (the orchestrator, the UI layer) depend on this, not on
*cache.EntityCache, so they can be driven by fakes in tests.
*/
type Collection[T any] interface {

	// Name is the collection name used in engine updates.
	Name() string

	/*
		Lookup returns the collection.

		BEHAVIOR:
		---------
		- Cached and fresh: returned immediately
		- Cached but stale: returned immediately, refresh starts in the background
		- Missing, expired or force: waits for a fetch
		- Fetch failed with data cached: cached data, failure in Lookup.Stale
		- Fetch failed with nothing cached, or unauthorized: error
	*/
	Lookup(ctx context.Context, force bool) (cache.Lookup[T], error)

	// Peek returns whatever is cached without touching the network.
	Peek() (cache.Lookup[T], bool)
}

// PagedCollection is the PUBLIC read contract of a paged, filterable cache.
type PagedCollection[T any] interface {

	// Name is the collection name used in engine updates.
	Name() string

	// Lookup returns one page with the same rules as Collection.Lookup.
	Lookup(ctx context.Context, page int, filter types.Filter, force bool) (cache.Lookup[types.Page[T]], error)

	// Peek returns a cached page without touching the network.
	Peek(page int, filter types.Filter) (cache.Lookup[types.Page[T]], bool)

	/*
		TotalPages returns the number of pages for filter.

		RETURN VALUES:
		--------------
		(n, true)  : n pages are known to exist
		(0, false) : nothing fetched yet for this filter, or no total reported
	*/
	TotalPages(filter types.Filter) (int, bool)

	// Key identifies one page in engine updates.
	Key(page int, filter types.Filter) string
}

var (
	_ Collection[[]int]    = (*cache.EntityCache[[]int])(nil)
	_ PagedCollection[int] = (*cache.PagedEntityCache[int])(nil)
)
