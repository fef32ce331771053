package types

import "context"

// Fetcher is the contract between a single-collection cache and the remote API.
type Fetcher[T any] interface {

	/*
		Fetch is called when the cache misses, when a refresh is forced, or when
		a cached value has gone stale and a background refresh is started.
		It must return the complete collection; the cache replaces its entry
		wholesale with whatever comes back.
	*/
	Fetch(ctx context.Context) (T, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context) (T, error)

func (f FetcherFunc[T]) Fetch(ctx context.Context) (T, error) { return f(ctx) }

// Filter is anything that can be reduced to a canonical cache signature.
// Two filters that select the same data must return the same signature.
type Filter interface {
	Signature() string
}

// Page is one page of a server-paginated collection.
type Page[T any] struct {
	Items []T `json:"items"`

	// Total is the total item count reported by the server across all pages.
	// A negative value means the server did not report one.
	Total int `json:"total"`
}

// PageFetcher loads one page of a filtered collection. Pages are 1-based.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, page int, filter Filter) (Page[T], error)
}

// PageFetcherFunc adapts a plain function to PageFetcher.
type PageFetcherFunc[T any] func(ctx context.Context, page int, filter Filter) (Page[T], error)

func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, page int, filter Filter) (Page[T], error) {
	return f(ctx, page, filter)
}
