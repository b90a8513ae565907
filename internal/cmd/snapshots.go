package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kosmostars/spacefeed/internal/config"
	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/core/store"
	"github.com/kosmostars/spacefeed/internal/observability"
	"github.com/kosmostars/spacefeed/internal/output"
)

var (
	snapshotsListSource string
	snapshotsListLimit  int
	snapshotsPruneDays  int
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect and prune stored feed snapshots",
}

var snapshotsLatestCmd = &cobra.Command{
	Use:   "latest <source>",
	Short: "Show the most recent snapshot of a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, ok := core.ParseSource(args[0])
		if !ok {
			return fmt.Errorf("unknown source: %s", args[0])
		}

		db, err := openConfiguredStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		snap, err := db.Latest(cmd.Context(), src)
		if err != nil {
			return err
		}
		return emitView(cmd, "snapshot."+string(src), output.SnapshotsView([]core.Snapshot{*snap}))
	},
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var src core.Source
		if name := strings.TrimSpace(snapshotsListSource); name != "" {
			parsed, ok := core.ParseSource(name)
			if !ok {
				return fmt.Errorf("unknown source: %s", name)
			}
			src = parsed
		}

		db, err := openConfiguredStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		snaps, err := db.ListSnapshots(cmd.Context(), src, snapshotsListLimit)
		if err != nil {
			return err
		}
		return emitView(cmd, "snapshots", output.SnapshotsView(snaps))
	},
}

var snapshotsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		keepDays := cfg.Store.RetentionDays
		if cmd.Flags().Changed("keep-days") {
			keepDays = snapshotsPruneDays
		}
		if keepDays <= 0 {
			return fmt.Errorf("retention is disabled; pass --keep-days")
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		removed, err := db.Prune(cmd.Context(), keepDays)
		if err != nil {
			return err
		}
		observability.CLILogger.Info(fmt.Sprintf("Removed %d snapshots older than %s", removed, (time.Duration(keepDays)*24*time.Hour).String()),
			zap.Int64("removed", removed),
			zap.Int("keep_days", keepDays))
		return nil
	},
}

func openConfiguredStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openStore(cmd.Context(), cfg)
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsLatestCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsPruneCmd)

	addOutputFlags(snapshotsLatestCmd)
	addOutputFlags(snapshotsListCmd)
	snapshotsListCmd.Flags().StringVar(&snapshotsListSource, "source", "", "only list this source")
	snapshotsListCmd.Flags().IntVar(&snapshotsListLimit, "limit", 20, "maximum snapshots to list")
	snapshotsPruneCmd.Flags().IntVar(&snapshotsPruneDays, "keep-days", 0, "keep this many days (default store.retention_days)")
}
