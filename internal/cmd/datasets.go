package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kosmostars/spacefeed/internal/core/store"
	"github.com/kosmostars/spacefeed/internal/output"
	"github.com/kosmostars/spacefeed/internal/server/handlers"
)

var (
	datasetsSearch string
	datasetsLimit  int
	datasetsOffset int
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Browse the stored OSDR dataset catalog",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog records, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openConfiguredStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		q := store.DatasetQuery{
			Limit:  min(max(datasetsLimit, 1), handlers.MaxDatasetLimit),
			Offset: max(datasetsOffset, 0),
			Search: strings.TrimSpace(datasetsSearch),
		}
		items, err := db.ListDatasets(cmd.Context(), q)
		if err != nil {
			return err
		}
		total, err := db.CountDatasets(cmd.Context(), q.Search)
		if err != nil {
			return err
		}
		return emitView(cmd, "datasets", output.DatasetsView(items, total))
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	datasetsCmd.AddCommand(datasetsListCmd)

	addOutputFlags(datasetsListCmd)
	datasetsListCmd.Flags().StringVar(&datasetsSearch, "search", "", "match dataset id or title")
	datasetsListCmd.Flags().IntVar(&datasetsLimit, "limit", handlers.DefaultDatasetLimit, "page size")
	datasetsListCmd.Flags().IntVar(&datasetsOffset, "offset", 0, "records to skip")
}
