package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosmostars/spacefeed/internal/core"
)

type memoryStore struct {
	mu        sync.Mutex
	snapshots []core.Snapshot
	datasets  map[string]core.DatasetRecord
	insertErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{datasets: make(map[string]core.DatasetRecord)}
}

func (m *memoryStore) Insert(_ context.Context, source core.Source, payload []byte, fetchedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	id := int64(len(m.snapshots) + 1)
	m.snapshots = append(m.snapshots, core.Snapshot{ID: id, Source: source, Payload: append([]byte(nil), payload...), FetchedAt: fetchedAt})
	return id, nil
}

func (m *memoryStore) Upsert(_ context.Context, record core.DatasetRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[record.DatasetID] = record
	return int64(len(m.datasets)), nil
}

func (m *memoryStore) Count(source core.Source) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.snapshots {
		if s.Source == source {
			n++
		}
	}
	return n
}

type stubFetcher struct {
	source core.Source
	delay  time.Duration
	err    error

	active  atomic.Int32
	overlap atomic.Bool
	calls   atomic.Int32
}

func (f *stubFetcher) Source() core.Source { return f.source }

func (f *stubFetcher) Fetch(ctx context.Context) (*core.FetchOutcome, error) {
	f.calls.Add(1)
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return &core.FetchOutcome{Attempts: 1}, f.err
	}
	return &core.FetchOutcome{Payload: []byte(`{"ok":true}`), Attempts: 1}, nil
}

type recordingCache struct {
	mu   sync.Mutex
	puts []core.Snapshot
}

func (c *recordingCache) Put(_ context.Context, s core.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, s)
	return nil
}

func TestTriggerRefreshPersistsSnapshot(t *testing.T) {
	store := newMemoryStore()
	cache := &recordingCache{}
	sched := NewScheduler(store, nil)
	sched.Cache = cache
	require.NoError(t, sched.Register(&stubFetcher{source: core.SourceAPOD}, time.Hour))

	outcome, err := sched.TriggerRefresh(context.Background(), core.SourceAPOD)
	require.NoError(t, err)
	require.True(t, outcome.OK())
	assert.Equal(t, int64(1), outcome.SnapshotID)
	assert.Equal(t, 1, outcome.Stored)
	assert.Equal(t, 1, store.Count(core.SourceAPOD))
	require.Len(t, cache.puts, 1)
	assert.Equal(t, core.SourceAPOD, cache.puts[0].Source)

	status := sched.Status()
	require.Len(t, status, 1)
	assert.Equal(t, int64(1), status[0].Cycles)
	assert.Equal(t, core.StateIdle, status[0].State)
}

type stampedFetcher struct{ at time.Time }

func (f stampedFetcher) Source() core.Source { return core.SourceISS }

func (f stampedFetcher) Fetch(context.Context) (*core.FetchOutcome, error) {
	return &core.FetchOutcome{Payload: []byte(`{"latitude":1}`), Attempts: 1, FetchedAt: f.at}, nil
}

func TestStoredAndCachedSnapshotsShareFetchTime(t *testing.T) {
	store := newMemoryStore()
	cache := &recordingCache{}
	sched := NewScheduler(store, nil)
	sched.Cache = cache

	at := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.FixedZone("CET", 3600))
	require.NoError(t, sched.Register(stampedFetcher{at: at}, time.Hour))

	outcome, err := sched.TriggerRefresh(context.Background(), core.SourceISS)
	require.NoError(t, err)
	require.True(t, outcome.OK())

	want := time.Date(2026, 3, 14, 8, 26, 53, 589000000, time.UTC)
	require.Len(t, store.snapshots, 1)
	require.Len(t, cache.puts, 1)
	assert.Equal(t, want, store.snapshots[0].FetchedAt)
	assert.Equal(t, want, cache.puts[0].FetchedAt)
	assert.Equal(t, want, outcome.FetchedAt)
}

func TestTriggerRefreshUnknownSource(t *testing.T) {
	sched := NewScheduler(newMemoryStore(), nil)
	_, err := sched.TriggerRefresh(context.Background(), core.SourceCME)
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestTriggerRefreshConcurrentCallsNeverOverlap(t *testing.T) {
	store := newMemoryStore()
	fetcher := &stubFetcher{source: core.SourceNEO, delay: 30 * time.Millisecond}
	sched := NewScheduler(store, nil)
	require.NoError(t, sched.Register(fetcher, time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := sched.TriggerRefresh(context.Background(), core.SourceNEO)
			assert.NoError(t, err)
			assert.True(t, outcome.OK())
		}()
	}
	wg.Wait()

	assert.False(t, fetcher.overlap.Load())
	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.Equal(t, 2, store.Count(core.SourceNEO))
}

func TestCycleFailureIsReportedNotReturned(t *testing.T) {
	store := newMemoryStore()
	boom := core.NewFetchError(core.KindServer, core.SourceFLR, "upstream returned 503")
	sched := NewScheduler(store, nil)
	require.NoError(t, sched.Register(&stubFetcher{source: core.SourceFLR, err: boom}, time.Hour))

	outcome, err := sched.TriggerRefresh(context.Background(), core.SourceFLR)
	require.NoError(t, err)
	require.False(t, outcome.OK())
	assert.Equal(t, core.KindServer, outcome.Err.Kind)
	assert.Equal(t, 0, store.Count(core.SourceFLR))
	assert.Equal(t, int64(1), sched.Status()[0].Failures)
}

func TestStorageFailureKind(t *testing.T) {
	store := newMemoryStore()
	store.insertErr = errors.New("disk full")
	sched := NewScheduler(store, nil)
	require.NoError(t, sched.Register(&stubFetcher{source: core.SourceSpaceX}, time.Hour))

	outcome, err := sched.TriggerRefresh(context.Background(), core.SourceSpaceX)
	require.NoError(t, err)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, core.KindStorage, outcome.Err.Kind)
}

type catalogFetcher struct{}

func (catalogFetcher) Source() core.Source { return core.SourceOSDR }

func (catalogFetcher) Fetch(context.Context) (*core.FetchOutcome, error) {
	return &core.FetchOutcome{
		Payload: []byte(`[]`),
		Datasets: []core.DatasetRecord{
			{DatasetID: "OSD-1", Title: "first"},
			{DatasetID: "OSD-2", Title: "second"},
		},
		Skipped: 1,
	}, nil
}

func TestCatalogCycleUpsertsRecords(t *testing.T) {
	store := newMemoryStore()
	sched := NewScheduler(store, nil)
	require.NoError(t, sched.Register(catalogFetcher{}, time.Hour))

	outcome, err := sched.TriggerRefresh(context.Background(), core.SourceOSDR)
	require.NoError(t, err)
	require.True(t, outcome.OK())
	assert.Equal(t, 2, outcome.Stored)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Len(t, store.datasets, 2)
	assert.Equal(t, 1, store.Count(core.SourceOSDR))
}

func TestRegisterValidation(t *testing.T) {
	sched := NewScheduler(newMemoryStore(), nil)
	require.Error(t, sched.Register(nil, time.Second))
	require.Error(t, sched.Register(&stubFetcher{source: core.SourceISS}, 0))
	require.NoError(t, sched.Register(&stubFetcher{source: core.SourceISS}, time.Second))
	require.Error(t, sched.Register(&stubFetcher{source: core.SourceISS}, time.Second))
}

func TestRunStopsOnCancel(t *testing.T) {
	sched := NewScheduler(newMemoryStore(), nil)
	sched.RunOnStart = false
	require.NoError(t, sched.Register(&stubFetcher{source: core.SourceISS}, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		return !sched.Status()[0].NextDue.IsZero()
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.ErrorIs(t, sched.Register(&stubFetcher{source: core.SourceNEO}, time.Second), ErrSchedulerStarted)
}

func TestSlowCycleCoalescesTicks(t *testing.T) {
	store := newMemoryStore()
	fetcher := &stubFetcher{source: core.SourceCME, delay: 120 * time.Millisecond}
	sched := NewScheduler(store, nil)
	require.NoError(t, sched.Register(fetcher, 20*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	// One cycle running and at most one queued at any time keeps the count near
	// elapsed/delay instead of elapsed/interval.
	assert.False(t, fetcher.overlap.Load())
	assert.LessOrEqual(t, fetcher.calls.Load(), int32(4))
}

func TestSlowAndFailingSourcesDoNotHoldBackOthers(t *testing.T) {
	store := newMemoryStore()
	slow := &stubFetcher{source: core.SourceOSDR, delay: 80 * time.Millisecond}
	failing := &stubFetcher{source: core.SourceFLR, err: core.NewFetchError(core.KindServer, core.SourceFLR, "upstream returned 500")}
	fast := &stubFetcher{source: core.SourceISS}

	sched := NewScheduler(store, nil)
	for _, f := range []*stubFetcher{slow, failing, fast} {
		require.NoError(t, sched.Register(f, 20*time.Millisecond))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	// Manual refreshes race the scheduled cycles of the slow source.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := sched.TriggerRefresh(ctx, core.SourceOSDR)
			if err == nil {
				assert.True(t, outcome.OK())
			}
		}()
	}

	require.Eventually(t, func() bool {
		return fast.calls.Load() >= 8 && failing.calls.Load() >= 8
	}, 2*time.Second, 5*time.Millisecond)
	fastBefore, failingBefore := fast.calls.Load(), failing.calls.Load()

	require.Eventually(t, func() bool {
		return fast.calls.Load() > fastBefore && failing.calls.Load() > failingBefore
	}, time.Second, 5*time.Millisecond, "timers stalled behind the slow source")

	wg.Wait()
	cancel()
	require.NoError(t, <-done)

	assert.False(t, slow.overlap.Load(), "manual and scheduled cycles overlapped")
	assert.GreaterOrEqual(t, slow.calls.Load(), int32(3))
	assert.Less(t, slow.calls.Load(), fast.calls.Load())
	assert.Zero(t, store.Count(core.SourceFLR))
	assert.Greater(t, store.Count(core.SourceISS), 8)

	for _, entry := range sched.Status() {
		if entry.Source == core.SourceFLR {
			assert.Equal(t, entry.Cycles, entry.Failures)
		}
	}
}

func TestEndToEndScheduledWrites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Pillars","url":"https://apod.example/p.jpg"}`))
	}))
	defer server.Close()

	client := &Client{
		HTTP:    server.Client(),
		Limiter: NewRateLimiter(DefaultLimit, nil),
	}
	fetcher := &clientFetcher{client: client, url: server.URL}

	store := newMemoryStore()
	sched := NewScheduler(store, nil)
	require.NoError(t, sched.Register(fetcher, 100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	writes := store.Count(core.SourceAPOD)
	assert.GreaterOrEqual(t, writes, 2)
	assert.LessOrEqual(t, writes, 4)
}

type clientFetcher struct {
	client *Client
	url    string
}

func (f *clientFetcher) Source() core.Source { return core.SourceAPOD }

func (f *clientFetcher) Fetch(ctx context.Context) (*core.FetchOutcome, error) {
	resp, err := f.client.Execute(ctx, core.FetchRequest{Source: core.SourceAPOD, URL: f.url})
	if err != nil {
		return nil, err
	}
	return &core.FetchOutcome{Payload: resp.Body, Attempts: resp.Attempts}, nil
}
