// This file defines how stale entries are refreshed without slowing down reads.
// The goal of refresh is: "Keep data fresh without making the caller wait"

package refresh

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds how many background refreshes run at once.
const DefaultLimit = 8

/*
Runner runs background refreshes.

Trigger MUST be fast and non-blocking because it runs on the read path. When
a refresh for the same key is already in flight, or the concurrency limit is
reached, the trigger is dropped: the next stale read will try again.

Refreshes run on the Runner's own context, not the reader's, so a request
that returns early does not cancel the refresh it started.

Work is admitted under mu together with the closed check and counted in
admitting until it is handed to the group. Close waits for admitting to
drain before it waits for the group, so nothing starts after Close returns.
*/
type Runner struct {
	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	inflight  map[string]struct{}
	closed    bool
	admitting sync.WaitGroup
}

// NewRunner creates a Runner allowing at most limit concurrent refreshes.
// limit <= 0 means DefaultLimit.
func NewRunner(limit int) *Runner {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{ctx: ctx, cancel: cancel, inflight: make(map[string]struct{})}
	r.group.SetLimit(limit)
	return r
}

// Trigger starts fn in the background and reports whether it did.
func (r *Runner) Trigger(key string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return false
	}
	r.inflight[key] = struct{}{}
	r.admitting.Add(1)
	r.mu.Unlock()
	defer r.admitting.Done()

	started := r.group.TryGo(func() error {
		defer r.done(key)
		fn(r.ctx)
		return nil
	})
	if !started {
		r.done(key)
	}
	return started
}

// Go runs fn in the background without per-key deduplication, waiting for a
// free slot if the limit is reached. It is used for fire-and-forget work
// that must not be dropped.
func (r *Runner) Go(fn func(ctx context.Context)) {
	if !r.admit() {
		return
	}
	defer r.admitting.Done()

	r.group.Go(func() error {
		fn(r.ctx)
		return nil
	})
}

func (r *Runner) admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.admitting.Add(1)
	return true
}

func (r *Runner) done(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}

// Wait blocks until every refresh started so far has finished.
func (r *Runner) Wait() {
	_ = r.group.Wait()
}

// Close stops accepting work, cancels running refreshes and waits for them.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.admitting.Wait()
	r.Wait()
}
