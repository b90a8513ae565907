package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/metrics"
)

var (
	// ErrUnknownSource is returned for a source that was never registered.
	ErrUnknownSource = errors.New("source is not registered")
	// ErrSchedulerStarted is returned by Register once Run has been called.
	ErrSchedulerStarted = errors.New("scheduler already started")
)

// Fetcher obtains the current payload for one source.
type Fetcher interface {
	Source() core.Source
	Fetch(ctx context.Context) (*core.FetchOutcome, error)
}

// Store receives what a cycle fetched.
type Store interface {
	// Insert appends a snapshot and returns its id.
	Insert(ctx context.Context, source core.Source, payload []byte, fetchedAt time.Time) (int64, error)
	// Upsert writes a catalog record keyed by its dataset id. The last write wins.
	Upsert(ctx context.Context, record core.DatasetRecord) (int64, error)
}

// SnapshotCache holds the most recent snapshot per source.
type SnapshotCache interface {
	Put(ctx context.Context, snapshot core.Snapshot) error
}

// Scheduler runs one independent timer per registered source. Cycles for the
// same source never overlap: scheduled ticks and manual refreshes all pass
// through the Guard.
type Scheduler struct {
	Store  Store
	Guard  *Guard
	Cache  SnapshotCache
	Logger *logging.Logger
	Clock  func() time.Time

	// RunOnStart runs a cycle for every source as soon as Run is called.
	RunOnStart bool

	mu      sync.Mutex
	entries map[core.Source]*scheduleEntry
	order   []core.Source
	started bool
}

type scheduleEntry struct {
	fetcher  Fetcher
	interval time.Duration
	nextDue  time.Time
	state    core.ScheduleState
	pending  bool
	last     *core.FetchOutcome
	cycles   int64
	failures int64
}

// NewScheduler creates a scheduler writing to store.
func NewScheduler(store Store, guard *Guard) *Scheduler {
	if guard == nil {
		guard = NewGuard()
	}
	return &Scheduler{
		Store:      store,
		Guard:      guard,
		RunOnStart: true,
		entries:    make(map[core.Source]*scheduleEntry),
	}
}

// Register adds a fetcher with its refresh interval.
func (s *Scheduler) Register(fetcher Fetcher, interval time.Duration) error {
	if fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if interval <= 0 {
		return fmt.Errorf("interval for %s must be positive", fetcher.Source())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	if s.entries == nil {
		s.entries = make(map[core.Source]*scheduleEntry)
	}
	src := fetcher.Source()
	if _, exists := s.entries[src]; exists {
		return fmt.Errorf("source %s registered twice", src)
	}
	s.entries[src] = &scheduleEntry{fetcher: fetcher, interval: interval, state: core.StateIdle}
	s.order = append(s.order, src)
	return nil
}

// Sources returns the registered sources in registration order.
func (s *Scheduler) Sources() []core.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Source(nil), s.order...)
}

// Run starts every source loop and blocks until ctx is cancelled and all
// in-flight cycles have returned. Cycle failures never stop a loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSchedulerStarted
	}
	s.started = true
	entries := make([]*scheduleEntry, 0, len(s.order))
	for _, src := range s.order {
		entries = append(entries, s.entries[src])
	}
	s.mu.Unlock()

	s.logInfo("Scheduler started", zap.Int("sources", len(entries)))

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		g.Go(func() error {
			s.loop(gctx, entry)
			return nil
		})
	}
	err := g.Wait()

	s.logInfo("Scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, entry *scheduleEntry) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	if s.RunOnStart {
		s.tick(ctx, entry, &inflight)
	}

	ticker := time.NewTicker(entry.interval)
	defer ticker.Stop()
	s.setNextDue(entry)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.setNextDue(entry)
			s.tick(ctx, entry, &inflight)
		}
	}
}

// tick queues a cycle behind the guard. At most one scheduled cycle waits per
// source; a tick that finds one already queued is folded into it, since the
// queued cycle fetches after the running one finishes anyway.
func (s *Scheduler) tick(ctx context.Context, entry *scheduleEntry, inflight *sync.WaitGroup) {
	s.mu.Lock()
	if entry.pending {
		s.mu.Unlock()
		src := string(entry.fetcher.Source())
		metrics.RecordCoalescedTick(src)
		s.logInfo("Scheduled tick folded into queued cycle", zap.String("source", src))
		return
	}
	entry.pending = true
	if entry.state == core.StateIdle {
		entry.state = core.StateQueued
	}
	s.mu.Unlock()

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		_, _ = s.runGuarded(ctx, entry, true)
	}()
}

// TriggerRefresh runs one cycle for source now. If a cycle for the same source
// is running, the call waits for it and then performs its own fetch. The only
// error is ErrUnknownSource or a context error while waiting; fetch and storage
// failures are reported on the outcome.
func (s *Scheduler) TriggerRefresh(ctx context.Context, source core.Source) (*core.FetchOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	entry, ok := s.entries[source]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return s.runGuarded(ctx, entry, false)
}

// RefreshAll triggers the given sources concurrently. Results follow the order
// of sources; unknown sources yield an outcome carrying a client error.
func (s *Scheduler) RefreshAll(ctx context.Context, sources []core.Source) []*core.FetchOutcome {
	outcomes := make([]*core.FetchOutcome, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			outcome, err := s.TriggerRefresh(ctx, src)
			if err != nil {
				kind := core.KindTransport
				if errors.Is(err, ErrUnknownSource) {
					kind = core.KindClient
				}
				outcome = &core.FetchOutcome{Source: src, Err: &core.FetchError{Kind: kind, Source: src, Message: err.Error(), Err: err}}
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Scheduler) runGuarded(ctx context.Context, entry *scheduleEntry, scheduled bool) (*core.FetchOutcome, error) {
	src := entry.fetcher.Source()
	var outcome *core.FetchOutcome

	err := s.guard().Do(ctx, string(src), func(ctx context.Context) error {
		s.mu.Lock()
		if scheduled {
			entry.pending = false
		}
		entry.state = core.StateFetching
		s.mu.Unlock()

		outcome = s.cycle(ctx, entry.fetcher)

		s.mu.Lock()
		entry.state = core.StateIdle
		if entry.pending {
			entry.state = core.StateQueued
		}
		entry.last = outcome
		entry.cycles++
		if !outcome.OK() {
			entry.failures++
		}
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		s.mu.Lock()
		if scheduled {
			entry.pending = false
			if entry.state == core.StateQueued {
				entry.state = core.StateIdle
			}
		}
		s.mu.Unlock()
		return nil, err
	}
	return outcome, nil
}

// cycle fetches, persists and reports. Errors end up on the outcome.
func (s *Scheduler) cycle(ctx context.Context, fetcher Fetcher) *core.FetchOutcome {
	src := fetcher.Source()
	start := s.now()

	outcome, err := fetcher.Fetch(ctx)
	if outcome == nil {
		outcome = &core.FetchOutcome{}
	}
	outcome.Source = src
	if outcome.FetchedAt.IsZero() {
		outcome.FetchedAt = start
	}

	if err != nil {
		outcome.Err = core.AsFetchError(src, err)
	} else if err := s.persist(ctx, outcome); err != nil {
		outcome.Err = core.StorageFailure(src, err)
	}
	outcome.Duration = s.now().Sub(start)

	metrics.RecordFetchCycle(string(src), outcome.Label(), outcome.Duration)
	metrics.RecordStoredRecords(string(src), outcome.Stored)
	s.logOutcome(outcome)
	return outcome
}

func (s *Scheduler) persist(ctx context.Context, outcome *core.FetchOutcome) error {
	if s.Store == nil {
		return fmt.Errorf("no store configured")
	}

	// Row and cache entry carry the same instant at the store's precision.
	outcome.FetchedAt = outcome.FetchedAt.UTC().Truncate(time.Millisecond)
	id, err := s.Store.Insert(ctx, outcome.Source, outcome.Payload, outcome.FetchedAt)
	if err != nil {
		return err
	}
	outcome.SnapshotID = id

	if len(outcome.Datasets) == 0 {
		outcome.Stored = 1
	}
	for _, record := range outcome.Datasets {
		if _, err := s.Store.Upsert(ctx, record); err != nil {
			return fmt.Errorf("upsert dataset %s: %w", record.DatasetID, err)
		}
		outcome.Stored++
	}

	if s.Cache != nil {
		snapshot := core.Snapshot{ID: id, Source: outcome.Source, Payload: outcome.Payload, FetchedAt: outcome.FetchedAt}
		if err := s.Cache.Put(ctx, snapshot); err != nil {
			s.logWarn("Snapshot cache update failed",
				zap.String("source", string(outcome.Source)),
				zap.Error(err))
		}
	}
	return nil
}

// Status reports every registered source in registration order.
func (s *Scheduler) Status() []core.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ScheduleEntry, 0, len(s.order))
	for _, src := range s.order {
		e := s.entries[src]
		out = append(out, core.ScheduleEntry{
			Source:      src,
			Interval:    e.interval,
			NextDue:     e.nextDue,
			State:       e.state,
			LastOutcome: e.last,
			Cycles:      e.cycles,
			Failures:    e.failures,
		})
	}
	return out
}

func (s *Scheduler) setNextDue(entry *scheduleEntry) {
	next := s.now().Add(entry.interval)
	s.mu.Lock()
	entry.nextDue = next
	s.mu.Unlock()
}

func (s *Scheduler) guard() *Guard {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Guard == nil {
		s.Guard = NewGuard()
	}
	return s.Guard
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Scheduler) logOutcome(outcome *core.FetchOutcome) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("source", string(outcome.Source)),
		zap.String("outcome", outcome.Label()),
		zap.Int("attempts", outcome.Attempts),
		zap.Duration("duration", outcome.Duration),
	}
	if outcome.OK() {
		fields = append(fields, zap.Int("stored", outcome.Stored), zap.Int64("snapshot_id", outcome.SnapshotID))
		if outcome.Skipped > 0 {
			fields = append(fields, zap.Int("skipped", outcome.Skipped))
		}
		s.Logger.Info("Fetch cycle completed", fields...)
		return
	}
	fields = append(fields, zap.String("error", outcome.Err.Error()))
	s.Logger.Warn("Fetch cycle failed", fields...)
}

func (s *Scheduler) logInfo(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Info(msg, fields...)
	}
}

func (s *Scheduler) logWarn(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}
