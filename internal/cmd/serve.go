package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kosmostars/spacefeed/internal/config"
	"github.com/kosmostars/spacefeed/internal/core/cache"
	"github.com/kosmostars/spacefeed/internal/core/store"
	errwrap "github.com/kosmostars/spacefeed/internal/errors"
	"github.com/kosmostars/spacefeed/internal/metrics"
	"github.com/kosmostars/spacefeed/internal/observability"
	"github.com/kosmostars/spacefeed/internal/server"
	"github.com/kosmostars/spacefeed/internal/server/handlers"
)

const pruneEvery = 24 * time.Hour

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// storeHealthChecker pings the snapshot store.
type storeHealthChecker struct {
	store *store.Store
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return errwrap.WrapStorage(ctx, err, "store ping failed")
	}
	return nil
}

// cacheHealthChecker pings redis when the snapshot cache is configured.
type cacheHealthChecker struct {
	cache *cache.SnapshotCache
}

func (c cacheHealthChecker) CheckHealth(ctx context.Context) error {
	if err := c.cache.Ping(ctx); err != nil {
		return errwrap.WrapInternal(ctx, err, "snapshot cache ping failed")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fetch scheduler and HTTP API",
	Long: `Start the per-source fetch scheduler and the HTTP read API with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (log level only; restart for source changes)

On shutdown the scheduler stops taking new cycles, in-flight cycles finish,
then the HTTP server, cache and store are closed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := config.Load(cmd.Context(), serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed")
		}

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = observability.DefaultMetricsPort
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.String("store_driver", cfg.Store.Driver))

		rt, err := buildRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize fetch runtime", zap.Error(err))
			return errwrap.WrapStorage(cmd.Context(), err, "runtime initialization failed")
		}

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("store", storeHealthChecker{store: rt.Store})
		if rt.Cache != nil {
			hm.RegisterChecker("snapshot_cache", cacheHealthChecker{cache: rt.Cache})
		}

		api := &handlers.SpaceAPI{
			Refresher: rt.Scheduler,
			Reader:    rt.Store,
		}
		if rt.Cache != nil {
			api.Cache = rt.Cache
		}

		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithAPI(api),
			server.WithRefreshThrottle(server.NewRefreshThrottle(cfg.API.RefreshRPS, cfg.API.RefreshBurst)),
			server.WithTimeouts(server.Timeouts{
				Read:  cfg.Server.ReadTimeout,
				Write: cfg.Server.WriteTimeout,
				Idle:  cfg.Server.IdleTimeout,
			}),
		)

		handlers.SetAppIdentity(identity)
		handlers.SetFeedInfo(rt.Store.Driver(), rt.Scheduler.Sources())

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		runCtx, stopRuntime := context.WithCancel(context.Background())
		schedulerDone := make(chan struct{})
		go func() {
			defer close(schedulerDone)
			if err := rt.Scheduler.Run(runCtx); err != nil && runCtx.Err() == nil {
				logger.Error("Scheduler stopped", zap.Error(err))
			}
		}()
		go pruneLoop(runCtx, rt.Store, cfg.Store.RetentionDays)

		// Shutdown handlers run LIFO: last registered runs first.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		if cfg.Metrics.Enabled {
			signals.OnShutdown(func(ctx context.Context) error {
				logger.Info("Stopping metrics exporter...")
				if err := observability.StopMetrics(); err != nil {
					logger.Warn("Metrics exporter stop returned error", zap.Error(err))
				}
				return nil
			})
		}

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Closing store and cache...")
			if err := rt.Close(); err != nil {
				return errwrap.WrapStorage(ctx, err, "store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping scheduler...")
			stopRuntime()
			select {
			case <-schedulerDone:
			case <-time.After(shutdownTimeout):
				logger.Warn("Scheduler did not stop before timeout", zap.Duration("timeout", shutdownTimeout))
			}
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.Load(ctx, serveOverrides(cmd))
			if err != nil {
				logger.Error("Failed to reload config", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.SetServerLogLevel(reloaded.Logging.Level)
			logger.Info("Configuration reloaded",
				zap.String("log_level", reloaded.Logging.Level),
				zap.Int("sources", len(planFeeds(reloaded))))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		errChan := make(chan error, 1)
		metrics.SetServerStartTime(time.Now().Unix())
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port),
				zap.Int("sources", len(rt.Scheduler.Sources())))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			stopRuntime()
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// serveOverrides turns explicitly set --host and --port flags into a runtime
// config layer.
func serveOverrides(cmd *cobra.Command) map[string]any {
	serverLayer := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverLayer["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		serverLayer["port"] = serverPort
	}
	if len(serverLayer) == 0 {
		return nil
	}
	return map[string]any{"server": serverLayer}
}

// pruneLoop deletes snapshots older than keepDays once a day.
func pruneLoop(ctx context.Context, db *store.Store, keepDays int) {
	if keepDays <= 0 {
		return
	}
	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := db.Prune(ctx, keepDays)
			metrics.RecordOperation("snapshot_prune", err == nil)
			if err != nil {
				metrics.RecordOperationError("snapshot_prune", "storage")
				observability.ServerLogger.Warn("Snapshot prune failed", zap.Error(err))
				continue
			}
			observability.ServerLogger.Info("Pruned old snapshots",
				zap.Int64("removed", removed),
				zap.Int("keep_days", keepDays))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 3000, "server port (overrides server.port)")
}
