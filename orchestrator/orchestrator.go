// Package orchestrator drives which page of a paged collection is on screen
// and turns it, together with the registry, into a timeline model.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/krisalay/fleet-agenda-cache/api"
	"github.com/krisalay/fleet-agenda-cache/engine"
	"github.com/krisalay/fleet-agenda-cache/timeline"
	"github.com/krisalay/fleet-agenda-cache/types"
	"github.com/sirupsen/logrus"
)

// Phase is where the orchestrator is in its load cycle.
type Phase int

const (
	Idle Phase = iota
	Loading
	Error
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

/*
State is one immutable picture of the orchestrator.

While Loading, View still holds the previous page's model so the screen does
not blank out. In Error, Err is the failure and View is empty: the key had
nothing cached to fall back to.
*/
type State struct {
	Phase  Phase
	Page   int
	Filter types.Filter

	// TotalPages is 0 while the page count is unknown.
	TotalPages int
	FetchedAt  time.Time

	Err error

	// Notice is a failed fetch that was papered over with cached data.
	Notice error

	View timeline.Result
}

// Config wires an Orchestrator to its caches.
type Config[R, E any] struct {
	Pages    api.PagedCollection[R]
	Registry api.Collection[[]E]
	Engine   *engine.CacheEngine

	ToRecord func(R) timeline.Record
	ToEntity func(E) timeline.Entity

	// Search extracts the title search from a filter. Nil means no search.
	Search func(types.Filter) string

	KeyWidth int
}

/*
Orchestrator is the state machine over (page, filter).

Every load bumps a generation counter. A response that comes back after a
newer load started is dropped on the floor: the cache has stored it, but the
state stays on the newer key.
*/
type Orchestrator[R, E any] struct {
	cfg Config[R, E]
	log logrus.FieldLogger

	mu      sync.Mutex
	gen     uint64
	state   State
	records []R

	subsMu sync.Mutex
	subs   map[int]func(State)
	nextID int

	unsubscribe func()
}

// New builds an orchestrator on page 1 of filter. Nothing is fetched until
// Load is called.
func New[R, E any](cfg Config[R, E], filter types.Filter) *Orchestrator[R, E] {
	o := &Orchestrator[R, E]{
		cfg:   cfg,
		log:   cfg.Engine.Log.WithFields(logrus.Fields{"module": "orchestrator", "collection": cfg.Pages.Name()}),
		state: State{Phase: Idle, Page: 1, Filter: filter},
		subs:  make(map[int]func(State)),
	}
	o.unsubscribe = cfg.Engine.Subscribe(o.onUpdate)
	return o
}

// Close detaches the orchestrator from cache updates.
func (o *Orchestrator[R, E]) Close() {
	o.unsubscribe()
}

// State returns the current state.
func (o *Orchestrator[R, E]) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn must not block.
func (o *Orchestrator[R, E]) Subscribe(fn func(State)) (cancel func()) {
	o.subsMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.subsMu.Unlock()

	return func() {
		o.subsMu.Lock()
		delete(o.subs, id)
		o.subsMu.Unlock()
	}
}

func (o *Orchestrator[R, E]) emit(s State) {
	o.subsMu.Lock()
	fns := make([]func(State), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subsMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Load loads the current page and filter, from cache when possible.
func (o *Orchestrator[R, E]) Load(ctx context.Context) State {
	s := o.State()
	return o.load(ctx, s.Page, s.Filter, false)
}

// Refresh reloads the current page and filter from the network.
func (o *Orchestrator[R, E]) Refresh(ctx context.Context) State {
	s := o.State()
	return o.load(ctx, s.Page, s.Filter, true)
}

// SetFilter switches to filter and goes back to page 1.
func (o *Orchestrator[R, E]) SetFilter(ctx context.Context, filter types.Filter) State {
	return o.load(ctx, 1, filter, false)
}

/*
SetPage navigates to page. Pages below 1, or past the last page when the page
count is known, are ignored and the current state is returned unchanged.
*/
func (o *Orchestrator[R, E]) SetPage(ctx context.Context, page int) State {
	s := o.State()
	if page < 1 {
		return s
	}
	if total, ok := o.cfg.Pages.TotalPages(s.Filter); ok && page > max(total, 1) {
		return s
	}
	return o.load(ctx, page, s.Filter, false)
}

func (o *Orchestrator[R, E]) load(ctx context.Context, page int, filter types.Filter, force bool) State {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.state.Phase = Loading
	o.state.Page = page
	o.state.Filter = filter
	o.state.Err = nil
	o.state.Notice = nil
	loading := o.state
	o.mu.Unlock()
	o.emit(loading)

	l, err := o.cfg.Pages.Lookup(ctx, page, filter, force)

	o.mu.Lock()
	if gen != o.gen {
		s := o.state
		o.mu.Unlock()
		o.log.WithFields(logrus.Fields{"page": page, "signature": filter.Signature()}).
			Debug("dropping response for superseded page")
		return s
	}
	if err != nil {
		o.records = nil
		o.state.Phase = Error
		o.state.Err = err
		o.state.View = timeline.Result{}
		o.state.FetchedAt = time.Time{}
		o.log.WithFields(logrus.Fields{"page": page, "signature": filter.Signature()}).
			WithError(err).Error("page load failed")
	} else {
		o.records = l.Data.Items
		o.state.Phase = Idle
		o.state.Notice = l.Stale
		o.state.FetchedAt = l.FetchedAt
		o.state.TotalPages, _ = o.cfg.Pages.TotalPages(filter)
		o.state.View = o.reconcile()
	}
	s := o.state
	o.mu.Unlock()

	if err == nil {
		o.refreshRegistry()
	}
	o.emit(s)
	return s
}

// refreshRegistry brings the registry up to date off the caller's path. The
// timeline is re-reconciled when the new registry lands.
func (o *Orchestrator[R, E]) refreshRegistry() {
	o.cfg.Engine.Refresh.Trigger("orchestrator/"+o.cfg.Registry.Name(), func(ctx context.Context) {
		if _, err := o.cfg.Registry.Lookup(ctx, false); err != nil {
			o.log.WithError(err).Warn("registry refresh failed")
		}
	})
}

// reconcile must be called with mu held.
func (o *Orchestrator[R, E]) reconcile() timeline.Result {
	records := make([]timeline.Record, len(o.records))
	for i, r := range o.records {
		records[i] = o.cfg.ToRecord(r)
	}

	var registry []timeline.Entity
	if l, ok := o.cfg.Registry.Peek(); ok {
		registry = make([]timeline.Entity, len(l.Data))
		for i, e := range l.Data {
			registry[i] = o.cfg.ToEntity(e)
		}
	}

	opts := timeline.Options{KeyWidth: o.cfg.KeyWidth}
	if o.cfg.Search != nil && o.state.Filter != nil {
		opts.Search = o.cfg.Search(o.state.Filter)
	}
	res := timeline.Reconcile(records, registry, opts)
	if len(res.Dropped) > 0 {
		o.log.WithField("dropped", len(res.Dropped)).Debug("records left off the timeline")
	}
	return res
}

// onUpdate re-reconciles when the visible page or the registry changes
// underneath the orchestrator.
func (o *Orchestrator[R, E]) onUpdate(u engine.Update) {
	o.mu.Lock()
	if o.state.Phase == Loading {
		o.mu.Unlock()
		return
	}

	switch {
	case u.Collection == o.cfg.Registry.Name():
		if u.Err != nil || o.state.Phase != Idle {
			o.mu.Unlock()
			return
		}

	case u.Collection == o.cfg.Pages.Name() && u.Key == o.cfg.Pages.Key(o.state.Page, o.state.Filter):
		if u.Err != nil {
			if o.state.Phase == Idle {
				o.state.Notice = u.Err
			}
			break
		}
		l, ok := o.cfg.Pages.Peek(o.state.Page, o.state.Filter)
		if !ok {
			o.mu.Unlock()
			return
		}
		o.records = l.Data.Items
		o.state.Phase = Idle
		o.state.Err = nil
		o.state.Notice = nil
		o.state.FetchedAt = l.FetchedAt
		o.state.TotalPages, _ = o.cfg.Pages.TotalPages(o.state.Filter)

	default:
		o.mu.Unlock()
		return
	}

	if o.state.Phase == Idle {
		o.state.View = o.reconcile()
	}
	s := o.state
	o.mu.Unlock()
	o.emit(s)
}
