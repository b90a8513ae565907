package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/output"
	"github.com/kosmostars/spacefeed/internal/server/handlers"
)

var issTrendHours int

var issCmd = &cobra.Command{
	Use:   "iss",
	Short: "Inspect stored ISS positions",
}

var issTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Aggregate stored positions into hourly buckets",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openConfiguredStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		hours := min(max(issTrendHours, 1), handlers.MaxTrendHours)
		since := time.Now().Add(-time.Duration(hours) * time.Hour)
		snaps, err := db.ListRecent(cmd.Context(), core.SourceISS, since)
		if err != nil {
			return err
		}

		positions := make([]core.IssPosition, 0, len(snaps))
		for _, snap := range snaps {
			pos, err := core.PositionFromSnapshot(snap)
			if err != nil {
				continue
			}
			positions = append(positions, pos)
		}
		return emitView(cmd, "iss.trend", output.TrendView(core.BuildTrend(positions)))
	},
}

func init() {
	rootCmd.AddCommand(issCmd)
	issCmd.AddCommand(issTrendCmd)

	addOutputFlags(issTrendCmd)
	issTrendCmd.Flags().IntVar(&issTrendHours, "hours", handlers.DefaultTrendHours, "hours to look back (max 168)")
}
