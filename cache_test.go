package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	cache "github.com/krisalay/fleet-agenda-cache"
	"github.com/krisalay/fleet-agenda-cache/engine"
	"github.com/krisalay/fleet-agenda-cache/eviction"
	"github.com/krisalay/fleet-agenda-cache/expiration"
	"github.com/krisalay/fleet-agenda-cache/spill"
	"github.com/krisalay/fleet-agenda-cache/types"
)

//
// ================= TEST CLOCK =================
//

type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestClock() *TestClock {
	return &TestClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

//
// ================= TEST BACKEND =================
//

type user struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

func trimUser(u user) user { return user{ID: u.ID, Name: u.Name} }

// TestBackend stands in for the remote API of a whole collection.
type TestBackend struct {
	mu    sync.Mutex
	calls int
	value []user
	err   error

	// When gate is set, the next call closes entered and blocks until gate
	// is closed. The value it returns is the one set when it was called.
	gate    chan struct{}
	entered chan struct{}
}

func NewTestBackend(names ...string) *TestBackend {
	b := &TestBackend{}
	b.Set(names...)
	return b
}

func (b *TestBackend) Set(names ...string) {
	users := make([]user, len(names))
	for i, n := range names {
		users[i] = user{ID: fmt.Sprint(i + 1), Name: n, Password: "hunter2"}
	}
	b.mu.Lock()
	b.value, b.err = users, nil
	b.mu.Unlock()
}

func (b *TestBackend) Fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *TestBackend) Hold() (entered, release chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate, b.entered = make(chan struct{}), make(chan struct{})
	return b.entered, b.gate
}

func (b *TestBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *TestBackend) Fetch(ctx context.Context) ([]user, error) {
	b.mu.Lock()
	b.calls++
	v, err := b.value, b.err
	gate, entered := b.gate, b.entered
	b.gate, b.entered = nil, nil
	b.mu.Unlock()

	if gate != nil {
		close(entered)
		<-gate
	}
	return v, err
}

func names(us []user) string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.Name
	}
	return strings.Join(out, ",")
}

//
// ================= HELPER: CREATE ENGINE =================
//

type testEnv struct {
	eng     *engine.CacheEngine
	clock   *TestClock
	medium  *spill.MemoryMedium
	metrics *types.CounterMetrics
}

func newTestEnv(t *testing.T, quota, maxEntry int) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:   NewTestClock(),
		medium:  spill.NewMemoryMedium(quota),
		metrics: &types.CounterMetrics{},
	}
	env.eng = engine.NewCacheEngine(
		&expiration.StaleWhileRevalidate{TTL: 5 * time.Minute}, // stale after 1m
		nil,
		spill.NewStore(env.medium, maxEntry, nil),
		env.metrics,
		nil,
	)
	env.eng.Clock = env.clock.Now
	t.Cleanup(env.eng.Close)
	return env
}

func (env *testEnv) users(backend *TestBackend) *cache.EntityCache[[]user] {
	return cache.NewEntityCache(context.Background(), "users",
		types.Fetcher[[]user](backend), env.eng,
		cache.WithTrim(cache.TrimEach(trimUser)))
}

func (env *testEnv) snapshot(t *testing.T, key string) spill.Snapshot {
	t.Helper()
	raw, ok, _ := env.medium.Read(context.Background(), key)
	if !ok {
		t.Fatalf("expected snapshot under %q", key)
	}
	var s spill.Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("snapshot %q does not decode: %v", key, err)
	}
	return s
}

//
// ================= BASIC OPERATIONS =================
//

func TestFirstGetFetchesThenHits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada", "grace")
	c := env.users(backend)

	v, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if names(v) != "ada,grace" {
		t.Fatalf("expected ada,grace, got %v", names(v))
	}

	c.Get(ctx, false)
	if backend.Calls() != 1 {
		t.Fatalf("expected 1 fetch, got %d", backend.Calls())
	}
	if env.metrics.Hits.Load() != 1 || env.metrics.Misses.Load() != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %d/%d", env.metrics.Hits.Load(), env.metrics.Misses.Load())
	}
}

func TestForceAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)

	c.Get(ctx, false)
	backend.Set("ada", "linus")

	v, _ := c.Get(ctx, true)
	if names(v) != "ada,linus" {
		t.Fatalf("expected forced fetch to return ada,linus, got %v", names(v))
	}
	if backend.Calls() != 2 {
		t.Fatalf("expected 2 fetches, got %d", backend.Calls())
	}
}

//
// ================= STALE WHILE REVALIDATE =================
//

func TestStaleEntryServedAndRefreshedInBackground(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)

	c.Get(ctx, false)
	backend.Set("ada", "grace")
	env.clock.Advance(2 * time.Minute)

	v, _ := c.Get(ctx, false)
	if names(v) != "ada" {
		t.Fatalf("stale read should return cached data at once, got %v", names(v))
	}

	env.eng.Refresh.Wait()

	l, ok := c.Peek()
	if !ok || names(l.Data) != "ada,grace" {
		t.Fatalf("expected background refresh to store ada,grace, got %v", names(l.Data))
	}
	if env.metrics.Refreshes.Load() != 1 {
		t.Fatalf("expected 1 background refresh, got %d", env.metrics.Refreshes.Load())
	}
}

func TestFreshEntryDoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)

	c.Get(ctx, false)
	env.clock.Advance(30 * time.Second)
	c.Get(ctx, false)
	env.eng.Refresh.Wait()

	if backend.Calls() != 1 {
		t.Fatalf("expected no refresh inside the fresh window, got %d fetches", backend.Calls())
	}
}

func TestExpiredEntryWaitsForFetch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)

	c.Get(ctx, false)
	backend.Set("grace")
	env.clock.Advance(5 * time.Minute)

	v, _ := c.Get(ctx, false)
	if names(v) != "grace" {
		t.Fatalf("expired read should wait for new data, got %v", names(v))
	}
}

func TestFetchFailureServesStaleData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)

	c.Get(ctx, false)
	boom := errors.New("502 bad gateway")
	backend.Fail(boom)

	l, err := c.Lookup(ctx, true)
	if err != nil {
		t.Fatalf("expected no error while stale data exists, got %v", err)
	}
	if names(l.Data) != "ada" || !errors.Is(l.Stale, boom) {
		t.Fatalf("expected stale ada with the failure attached, got %v / %v", names(l.Data), l.Stale)
	}

	// Expired data is still better than nothing.
	env.clock.Advance(10 * time.Minute)
	if v, err := c.Get(ctx, false); err != nil || names(v) != "ada" {
		t.Fatalf("expected expired fallback ada, got %v / %v", names(v), err)
	}
}

func TestFetchFailureWithoutDataPropagates(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend()
	boom := errors.New("connection refused")
	backend.Fail(boom)
	c := env.users(backend)

	if _, err := c.Get(context.Background(), false); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if _, ok := c.Peek(); ok {
		t.Fatalf("a failed fetch must not cache anything")
	}
}

func TestUnauthorizedIsNeverPaperedOver(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)

	c.Get(ctx, false)
	backend.Fail(fmt.Errorf("GET /view/allusers: %w", types.ErrUnauthorized))

	if _, err := c.Get(ctx, true); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

//
// ================= WRITE ORDERING =================
//

func TestSlowRefreshDoesNotClobberForcedFetch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("v0")
	c := env.users(backend)
	c.Get(ctx, false)

	// t0: a stale read starts a background refresh that hangs.
	env.clock.Advance(2 * time.Minute)
	backend.Set("t0")
	entered, release := backend.Hold()
	c.Get(ctx, false)
	<-entered

	// t1: a forced fetch starts later and finishes first.
	env.clock.Advance(time.Second)
	backend.Set("t1")
	forced, err := c.Lookup(ctx, true)
	if err != nil || names(forced.Data) != "t1" {
		t.Fatalf("forced fetch failed: %v / %v", names(forced.Data), err)
	}

	// t2: the background refresh finally returns.
	close(release)
	env.eng.Refresh.Wait()

	l, _ := c.Peek()
	if names(l.Data) != "t1" {
		t.Fatalf("expected t1 to survive the late refresh, got %v", names(l.Data))
	}
	if !l.FetchedAt.Equal(forced.FetchedAt) {
		t.Fatalf("fetchedAt regressed from %v to %v", forced.FetchedAt, l.FetchedAt)
	}
	if env.metrics.Discards.Load() != 1 {
		t.Fatalf("expected 1 discarded response, got %d", env.metrics.Discards.Load())
	}
}

func TestConcurrentGetSharesOneFetch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	entered, release := backend.Hold()
	c := env.users(backend)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Get(ctx, false)
	}()
	<-entered

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(ctx, false)
			if err != nil || names(v) != "ada" {
				t.Errorf("expected ada, got %v / %v", names(v), err)
			}
		}()
	}

	close(release)
	wg.Wait()

	if backend.Calls() != 1 {
		t.Fatalf("expected concurrent readers to share 1 fetch, got %d", backend.Calls())
	}
}

//
// ================= DURABLE SPILL =================
//

func TestWriteThroughStoresTrimmedSnapshot(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	c := env.users(NewTestBackend("ada"))

	v, _ := c.Get(context.Background(), false)
	if v[0].Password == "" {
		t.Fatalf("the live entry keeps every field")
	}

	snap := env.snapshot(t, "cached_users")
	if strings.Contains(string(snap.Data), "hunter2") {
		t.Fatalf("snapshot must hold trimmed records, got %s", snap.Data)
	}
	if !snap.FetchedAt().Equal(env.clock.Now()) {
		t.Fatalf("expected snapshot timestamp %v, got %v", env.clock.Now(), snap.FetchedAt())
	}
}

func TestHydrationWithinTTL(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	env.users(NewTestBackend("ada")).Get(ctx, false)

	env.clock.Advance(30 * time.Second)
	backend := NewTestBackend("grace")
	c := env.users(backend)

	v, _ := c.Get(ctx, false)
	if names(v) != "ada" || backend.Calls() != 0 {
		t.Fatalf("expected hydrated ada without a fetch, got %v after %d fetches", names(v), backend.Calls())
	}
}

func TestHydrationRejectedAfterTTL(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	env.users(NewTestBackend("ada")).Get(ctx, false)

	env.clock.Advance(5 * time.Minute)
	c := env.users(NewTestBackend("grace"))

	if _, ok := c.Peek(); ok {
		t.Fatalf("a snapshot as old as the TTL must not hydrate")
	}
	if _, ok, _ := env.medium.Read(ctx, "cached_users"); ok {
		t.Fatalf("a rejected snapshot should be removed")
	}
}

func TestQuotaExceededOnlyCostsPersistence(t *testing.T) {
	env := newTestEnv(t, 16, 0)
	c := env.users(NewTestBackend("ada", "grace"))

	v, err := c.Get(context.Background(), false)
	if err != nil || names(v) != "ada,grace" {
		t.Fatalf("quota failure leaked into the read: %v / %v", names(v), err)
	}
	if env.metrics.SpillFailures.Load() != 1 {
		t.Fatalf("expected 1 spill failure, got %d", env.metrics.SpillFailures.Load())
	}
}

func TestClearDropsEntryAndSnapshot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := env.users(NewTestBackend("ada"))
	c.Get(ctx, false)

	if res := c.Clear(ctx); res.Outcome != spill.Removed {
		t.Fatalf("expected Removed, got %v", res.Outcome)
	}
	if _, ok := c.Peek(); ok {
		t.Fatalf("expected empty cache after clear")
	}
	if env.medium.Used() != 0 {
		t.Fatalf("expected empty medium after clear, %d bytes left", env.medium.Used())
	}
}

func TestRefreshInFlightDuringClearIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)
	c.Get(ctx, false)

	env.clock.Advance(2 * time.Minute)
	backend.Set("ada", "grace")
	entered, release := backend.Hold()
	c.Get(ctx, false) // stale, starts a background refresh
	<-entered

	c.Clear(ctx)
	close(release)
	env.eng.Refresh.Wait()

	if l, ok := c.Peek(); ok {
		t.Fatalf("refresh issued before clear brought back %v", names(l.Data))
	}
	if _, ok, _ := env.medium.Read(ctx, "cached_users"); ok {
		t.Fatalf("refresh issued before clear rewrote the snapshot")
	}
	if env.metrics.Discards.Load() != 1 {
		t.Fatalf("expected 1 discarded response, got %d", env.metrics.Discards.Load())
	}

	v, err := c.Get(ctx, false)
	if err != nil || names(v) != "ada,grace" {
		t.Fatalf("expected a fresh fetch after clear, got %v / %v", names(v), err)
	}
}

func TestForcedFetchInFlightDuringClearStillAnswers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := NewTestBackend("ada")
	c := env.users(backend)

	entered, release := backend.Hold()
	done := make(chan []user)
	go func() {
		v, _ := c.Get(ctx, true)
		done <- v
	}()
	<-entered

	c.Clear(ctx)
	close(release)

	if v := <-done; names(v) != "ada" {
		t.Fatalf("caller should still get its answer, got %v", names(v))
	}
	if _, ok := c.Peek(); ok {
		t.Fatalf("answer to a request issued before clear was cached")
	}
}

//
// ================= NOTIFICATIONS =================
//

func TestReplacementIsPublished(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := env.users(NewTestBackend("ada"))

	var got []engine.Update
	cancel := env.eng.Subscribe(func(u engine.Update) { got = append(got, u) })
	c.Get(ctx, false)
	cancel()
	c.Get(ctx, true)

	if len(got) != 1 {
		t.Fatalf("expected 1 update, got %d", len(got))
	}
	if got[0].Collection != "users" || got[0].Key != "users" || !got[0].FetchedAt.Equal(env.clock.Now()) {
		t.Fatalf("unexpected update %+v", got[0])
	}
}

//
// ================= PAGED CACHE =================
//

type testFilter struct{ status string }

func (f testFilter) Signature() string { return "status=" + f.status }

// TestPageBackend returns pageSize items per page, tagged with page and filter.
type TestPageBackend struct {
	mu    sync.Mutex
	calls int
	total int
	short int // when > 0, this page is short and no total is reported
	err   error

	gate    chan struct{}
	entered chan struct{}
}

func (b *TestPageBackend) Fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *TestPageBackend) Hold() (entered, release chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate, b.entered = make(chan struct{}), make(chan struct{})
	return b.entered, b.gate
}

func (b *TestPageBackend) FetchPage(ctx context.Context, page int, f types.Filter) (types.Page[string], error) {
	b.mu.Lock()
	gate, entered := b.gate, b.entered
	b.gate, b.entered = nil, nil
	b.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return types.Page[string]{}, b.err
	}

	n, total := 10, b.total
	if b.short > 0 {
		total = -1
		if page == b.short {
			n = 3
		}
	}
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("%s/p%d-%02d", f.Signature(), page, i)
	}
	return types.Page[string]{Items: items, Total: total}, nil
}

func (b *TestPageBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newPaged(env *testEnv, backend *TestPageBackend, opts ...cache.PagedOption[string]) *cache.PagedEntityCache[string] {
	return cache.NewPagedEntityCache[string]("bookings", backend, 10, env.eng, opts...)
}

func TestSwitchingBackToFilterHitsCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := &TestPageBackend{total: 30}
	c := newPaged(env, backend)

	confirmed, pending := testFilter{"confirmed"}, testFilter{"pending"}
	c.Get(ctx, 1, confirmed, false)
	c.Get(ctx, 1, pending, false)

	p, _ := c.Get(ctx, 1, confirmed, false)
	if backend.Calls() != 2 {
		t.Fatalf("expected the second visit to confirmed to skip the network, got %d fetches", backend.Calls())
	}
	if p.Items[0] != "status=confirmed/p1-00" {
		t.Fatalf("signatures collided: got %v", p.Items[0])
	}
}

func TestTotalPages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := newPaged(env, &TestPageBackend{total: 25})
	f := testFilter{"confirmed"}

	if _, ok := c.TotalPages(f); ok {
		t.Fatalf("page count should be unknown before the first fetch")
	}
	c.Get(ctx, 1, f, false)
	if n, ok := c.TotalPages(f); !ok || n != 3 {
		t.Fatalf("expected 3 pages, got %d/%v", n, ok)
	}
}

func TestShortPageIsLastWithoutTotal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := newPaged(env, &TestPageBackend{short: 2})
	f := testFilter{}

	c.Get(ctx, 1, f, false)
	if _, ok := c.TotalPages(f); ok {
		t.Fatalf("a full page with no total says nothing about the page count")
	}
	c.Get(ctx, 2, f, false)
	if n, ok := c.TotalPages(f); !ok || n != 2 {
		t.Fatalf("expected page 2 to be the last, got %d/%v", n, ok)
	}
}

func TestPageOutOfRange(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	backend := &TestPageBackend{total: 10}
	c := newPaged(env, backend)

	if _, err := c.Get(context.Background(), 0, testFilter{}, false); !errors.Is(err, cache.ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}
	if backend.Calls() != 0 {
		t.Fatalf("an invalid page must not be fetched")
	}
}

func TestMaxPagesEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := newPaged(env, &TestPageBackend{total: 100}, cache.WithMaxPages[string](2))
	f := testFilter{}

	c.Get(ctx, 1, f, false)
	c.Get(ctx, 2, f, false)
	c.Get(ctx, 1, f, false) // page 2 is now the least recently used
	c.Get(ctx, 3, f, false)

	if _, ok := c.Peek(2, f); ok {
		t.Fatalf("expected page 2 to be evicted")
	}
	if _, ok := c.Peek(1, f); !ok {
		t.Fatalf("expected page 1 to stay")
	}
	if env.metrics.Evictions.Load() != 1 {
		t.Fatalf("expected 1 eviction, got %d", env.metrics.Evictions.Load())
	}
}

func TestMaxPagesWithFIFO(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := newPaged(env, &TestPageBackend{total: 100},
		cache.WithMaxPages[string](2), cache.WithEviction[string](eviction.FIFO))
	f := testFilter{}

	c.Get(ctx, 1, f, false)
	c.Get(ctx, 2, f, false)
	c.Get(ctx, 1, f, false)
	c.Get(ctx, 3, f, false)

	if _, ok := c.Peek(1, f); ok {
		t.Fatalf("expected page 1 to be evicted first under FIFO")
	}
}

func TestPagedSnapshotDropsPagesToFit(t *testing.T) {
	ctx := context.Background()
	total := 100
	onePage := make([]string, 10)
	for i := range onePage {
		onePage[i] = fmt.Sprintf("status=/p2-%02d", i)
	}
	payload, _ := spill.Encode(map[string][]string{"2": onePage}, NewTestClock().Now(), &total)

	env := newTestEnv(t, 0, len(payload))
	c := newPaged(env, &TestPageBackend{total: total})
	f := testFilter{}

	c.Get(ctx, 1, f, false)
	c.Get(ctx, 2, f, false)

	pages, err := spill.Decode[map[string][]string](env.snapshot(t, "cached_bookings?status="))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pages) != 1 || pages["2"] == nil {
		t.Fatalf("expected only the most recent page to be kept, got %d pages", len(pages))
	}
}

func TestPagedHydration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	f := testFilter{"confirmed"}
	newPaged(env, &TestPageBackend{total: 25}).Get(ctx, 2, f, false)

	env.clock.Advance(30 * time.Second)
	backend := &TestPageBackend{total: 25}
	c := newPaged(env, backend)

	p, err := c.Get(ctx, 2, f, false)
	if err != nil || p.Items[0] != "status=confirmed/p2-00" || backend.Calls() != 0 {
		t.Fatalf("expected page 2 from the snapshot, got %v / %v after %d fetches", p.Items, err, backend.Calls())
	}
	if n, ok := c.TotalPages(f); !ok || n != 3 {
		t.Fatalf("expected hydrated total of 3 pages, got %d/%v", n, ok)
	}
}

func TestPagedClearRemovesEverySnapshot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := newPaged(env, &TestPageBackend{total: 25})
	c.Get(ctx, 1, testFilter{"confirmed"}, false)
	c.Get(ctx, 1, testFilter{"pending"}, false)

	c.Clear(ctx)

	if _, ok := c.Peek(1, testFilter{"confirmed"}); ok {
		t.Fatalf("expected no pages after clear")
	}
	if env.medium.Used() != 0 {
		t.Fatalf("expected every snapshot removed, %d bytes left", env.medium.Used())
	}
}

func TestPageUpdateKeyMatchesKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	c := newPaged(env, &TestPageBackend{total: 25})
	f := testFilter{"pending"}

	var got []string
	cancel := env.eng.Subscribe(func(u engine.Update) { got = append(got, u.Key) })
	defer cancel()
	c.Get(ctx, 2, f, false)

	if len(got) != 1 || got[0] != c.Key(2, f) {
		t.Fatalf("expected update for %q, got %v", c.Key(2, f), got)
	}
}

func TestPagedRefreshInFlightDuringClearIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := &TestPageBackend{total: 25}
	c := newPaged(env, backend)
	f := testFilter{"confirmed"}
	c.Get(ctx, 1, f, false)

	env.clock.Advance(2 * time.Minute)
	entered, release := backend.Hold()
	c.Get(ctx, 1, f, false)
	<-entered

	c.Clear(ctx)
	close(release)
	env.eng.Refresh.Wait()

	if _, ok := c.Peek(1, f); ok {
		t.Fatalf("refresh issued before clear brought the page back")
	}
	if env.medium.Used() != 0 {
		t.Fatalf("refresh issued before clear rewrote a snapshot, %d bytes stored", env.medium.Used())
	}
	if _, ok := c.TotalPages(f); ok {
		t.Fatalf("refresh issued before clear restored the page count")
	}
}

func TestUnauthorizedPageIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	backend := &TestPageBackend{total: 100}
	c := newPaged(env, backend, cache.WithMaxPages[string](2))
	f := testFilter{}

	c.Get(ctx, 1, f, false)
	c.Get(ctx, 2, f, false)

	backend.Fail(fmt.Errorf("POST /bookings: %w", types.ErrUnauthorized))
	if _, err := c.Get(ctx, 1, f, true); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, ok := c.Peek(1, f); ok {
		t.Fatalf("expected the refused page to be dropped")
	}

	pages, err := spill.Decode[map[string][]string](env.snapshot(t, "cached_bookings?status="))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pages) != 1 || pages["2"] == nil {
		t.Fatalf("expected the snapshot to keep only page 2, got %d pages", len(pages))
	}

	// The dropped page no longer counts against the bound.
	backend.Fail(nil)
	c.Get(ctx, 3, f, false)
	if env.metrics.Evictions.Load() != 0 {
		t.Fatalf("expected no eviction, got %d", env.metrics.Evictions.Load())
	}
	if _, ok := c.Peek(2, f); !ok {
		t.Fatalf("expected page 2 to stay")
	}
}
