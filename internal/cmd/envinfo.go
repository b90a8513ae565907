package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/kosmostars/spacefeed/internal/config"
	"github.com/kosmostars/spacefeed/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		identity := GetAppIdentity()
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + identity.BinaryName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			observability.CLILogger.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			observability.CLILogger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		// Fetch engine
		observability.CLILogger.Info("Fetch:")
		observability.CLILogger.Info("  User Agent:     "+cfg.Fetch.UserAgent, zap.String("user_agent", cfg.Fetch.UserAgent))
		observability.CLILogger.Info(fmt.Sprintf("  Rate Limit:     %d per %s", cfg.Fetch.RateLimit.Capacity, cfg.Fetch.RateLimit.Window),
			zap.Int("rate_limit_capacity", cfg.Fetch.RateLimit.Capacity),
			zap.Duration("rate_limit_window", cfg.Fetch.RateLimit.Window))
		observability.CLILogger.Info(fmt.Sprintf("  Retries:        %d (429 base %s, retry delay %s)", cfg.Fetch.Retry.MaxRetries, cfg.Fetch.Retry.BackoffBase, cfg.Fetch.Retry.RetryDelay))
		observability.CLILogger.Info(fmt.Sprintf("  Run On Start:   %t", cfg.Fetch.RunOnStart))
		observability.CLILogger.Info("  NASA API Key:   " + setStatus(cfg.NASA.APIKey))
		observability.CLILogger.Info("  Redis Cache:    "+setStatus(cfg.Redis.URL), zap.Bool("redis_enabled", cfg.Redis.URL != ""))
		observability.CLILogger.Info("")

		// Sources
		observability.CLILogger.Info("Sources:")
		for _, row := range sourceRows(cfg) {
			state := "disabled"
			if row.Enabled {
				state = "every " + row.Interval.String()
			}
			observability.CLILogger.Info(fmt.Sprintf("  %-7s %s", row.Source, state),
				zap.String("source", string(row.Source)),
				zap.Bool("enabled", row.Enabled))
		}
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func setStatus(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
