package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/kosmostars/spacefeed/internal/config"
	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/core/cache"
	"github.com/kosmostars/spacefeed/internal/core/engine"
	"github.com/kosmostars/spacefeed/internal/core/source"
	"github.com/kosmostars/spacefeed/internal/core/store"
	"github.com/kosmostars/spacefeed/internal/observability"
	"github.com/kosmostars/spacefeed/internal/output"
)

// feedPlan is one enabled source resolved against its built-in definition.
type feedPlan struct {
	Definition source.Definition
	URL        string
	Interval   time.Duration
	Timeout    time.Duration
}

// planFeeds resolves every enabled source. Unset URL, interval and timeout
// fall back to the source definition.
func planFeeds(cfg *config.Config) []feedPlan {
	plans := make([]feedPlan, 0, len(core.AllSources))
	for _, def := range source.Definitions() {
		override := cfg.Source(string(def.Source))
		if cfg.Sources != nil {
			if _, listed := cfg.Sources[string(def.Source)]; listed && !override.Enabled {
				continue
			}
		}
		plan := feedPlan{
			Definition: def,
			URL:        def.URL,
			Interval:   def.Interval,
			Timeout:    def.Timeout,
		}
		if override.URL != "" {
			plan.URL = override.URL
		}
		if override.Interval > 0 {
			plan.Interval = override.Interval
		}
		if override.Timeout > 0 {
			plan.Timeout = override.Timeout
		}
		plans = append(plans, plan)
	}
	return plans
}

// sourceRows lists every known source with its effective settings.
func sourceRows(cfg *config.Config) []output.SourceRow {
	enabled := make(map[core.Source]feedPlan)
	for _, plan := range planFeeds(cfg) {
		enabled[plan.Definition.Source] = plan
	}

	rows := make([]output.SourceRow, 0, len(core.AllSources))
	for _, def := range source.Definitions() {
		row := output.SourceRow{
			Source:      def.Source,
			URL:         def.URL,
			Interval:    def.Interval,
			Timeout:     def.Timeout,
			UsesAPIKey:  def.UsesAPIKey,
			Catalog:     def.Catalog,
			Description: def.Description,
		}
		if plan, ok := enabled[def.Source]; ok {
			row.Enabled = true
			row.URL = plan.URL
			row.Interval = plan.Interval
			row.Timeout = plan.Timeout
		}
		rows = append(rows, row)
	}
	return rows
}

// newFetchClient builds the shared limiter and retrying client.
func newFetchClient(cfg *config.Config, logger *logging.Logger) *engine.Client {
	limiter := engine.NewRateLimiter(engine.RateLimit{
		RequestsPerWindow: cfg.Fetch.RateLimit.Capacity,
		WindowDuration:    cfg.Fetch.RateLimit.Window,
	}, nil)

	return &engine.Client{
		HTTP:    engine.NewHTTPClient(),
		Limiter: limiter,
		Retry: engine.RetryPolicy{
			MaxRetries:  cfg.Fetch.Retry.MaxRetries,
			BackoffBase: cfg.Fetch.Retry.BackoffBase,
			RetryDelay:  cfg.Fetch.Retry.RetryDelay,
		},
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Logger:       logger,
	}
}

// fetchRuntime is everything a fetch cycle needs, built from one config.
type fetchRuntime struct {
	Config    *config.Config
	Store     *store.Store
	Cache     *cache.SnapshotCache
	Client    *engine.Client
	Scheduler *engine.Scheduler
}

// buildRuntime opens the store and cache and registers every enabled feed.
// A cache that cannot be reached is logged and skipped.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*fetchRuntime, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt := &fetchRuntime{Config: cfg, Store: db}

	if cfg.Redis.URL != "" {
		snapshotCache, err := cache.New(cfg.Redis.URL, cfg.Redis.TTL)
		if err == nil {
			err = snapshotCache.Ping(ctx)
		}
		if err != nil {
			if logger != nil {
				logger.Warn("Snapshot cache unavailable, continuing without it", zap.Error(err))
			}
			if snapshotCache != nil {
				_ = snapshotCache.Close()
			}
		} else {
			rt.Cache = snapshotCache
		}
	}

	rt.Client = newFetchClient(cfg, logger)

	scheduler := engine.NewScheduler(db, engine.NewGuard())
	scheduler.Logger = logger
	scheduler.RunOnStart = cfg.Fetch.RunOnStart
	if rt.Cache != nil {
		scheduler.Cache = rt.Cache
	}

	for _, plan := range planFeeds(cfg) {
		feed, ok := source.New(plan.Definition.Source, rt.Client, source.Options{
			URL:     plan.URL,
			APIKey:  cfg.NASA.APIKey,
			Timeout: plan.Timeout,
		})
		if !ok {
			continue
		}
		if err := scheduler.Register(feed, plan.Interval); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("register %s: %w", plan.Definition.Source, err)
		}
	}
	rt.Scheduler = scheduler
	return rt, nil
}

// Close releases the cache and the store.
func (r *fetchRuntime) Close() error {
	if r == nil {
		return nil
	}
	if r.Cache != nil {
		_ = r.Cache.Close()
	}
	if r.Store != nil {
		return r.Store.Close()
	}
	return nil
}

// loadRuntime loads config and builds the runtime with the CLI logger.
func loadRuntime(ctx context.Context) (*fetchRuntime, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildRuntime(ctx, cfg, observability.CLILogger)
}
