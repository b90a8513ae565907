package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kosmostars/spacefeed/internal/config"
	"github.com/kosmostars/spacefeed/internal/output"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List upstream sources and their effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		return emitView(cmd, "sources", output.SourcesView(sourceRows(cfg)))
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	addOutputFlags(sourcesCmd)
}
