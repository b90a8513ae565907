package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/observability"
	"github.com/kosmostars/spacefeed/internal/output"
)

var fetchStrict bool

var fetchCmd = &cobra.Command{
	Use:   "fetch [source...]",
	Short: "Run one fetch cycle per source and store the results",
	Long: `Run one fetch cycle for each named source, concurrently, and store what comes back.

Sources: iss, osdr, apod, neo, flr, cme, spacex. Without arguments every
enabled source is fetched. Sources may also be given comma separated.`,
	Example: `  spacefeed fetch
  spacefeed fetch iss osdr
  spacefeed fetch apod,neo --output-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		requested, err := parseSourceArgs(args)
		if err != nil {
			return err
		}

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		sources := requested
		if len(sources) == 0 {
			sources = rt.Scheduler.Sources()
		}
		if len(sources) == 0 {
			return fmt.Errorf("no sources enabled")
		}

		observability.CLILogger.Debug("Fetching sources", zap.Int("count", len(sources)))
		outcomes := rt.Scheduler.RefreshAll(cmd.Context(), sources)

		if err := emitView(cmd, "fetch", output.OutcomesView(outcomes)); err != nil {
			return err
		}

		var (
			failed    int
			firstFail error
		)
		for _, outcome := range outcomes {
			if !outcome.OK() {
				failed++
				if firstFail == nil {
					firstFail = outcome.Err
				}
			}
		}
		if failed > 0 && fetchStrict {
			ExitWithCode(observability.CLILogger, exitCodeForOutcomes(outcomes),
				fmt.Sprintf("%d of %d sources failed", failed, len(outcomes)), firstFail)
		}
		return nil
	},
}

// parseSourceArgs accepts names as separate or comma separated arguments.
func parseSourceArgs(args []string) ([]core.Source, error) {
	known, unknown := core.ParseSourceList(strings.Join(args, ","))
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown sources: %s", strings.Join(unknown, ", "))
	}
	return known, nil
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	addOutputFlags(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchStrict, "strict", false, "exit non-zero when any source fails")
}
