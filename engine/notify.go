package engine

import "time"

// Update tells subscribers that an entry changed, or that a background
// refresh for it failed. It carries no data: subscribers re-read the cache.
type Update struct {
	Collection string
	Key        string
	FetchedAt  time.Time

	// Err is set when a background refresh failed and the old entry stays.
	Err error
}

/*
Subscribe registers fn for every Update and returns a function that removes
it. fn runs synchronously on whichever goroutine replaced the entry, so it
must not block and must not call back into the cache that published it
while holding its own locks.
*/
func (e *CacheEngine) Subscribe(fn func(Update)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Publish delivers u to every subscriber.
func (e *CacheEngine) Publish(u Update) {
	e.mu.Lock()
	fns := make([]func(Update), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}
