package cmd

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/kosmostars/spacefeed/internal/core"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended to add build, toolchain and feed details.",
	RunE: func(cmd *cobra.Command, args []string) error {
		writeVersion(cmd.OutOrStdout(), GetAppIdentity().BinaryName, extended)
		return nil
	},
}

func writeVersion(w io.Writer, binary string, full bool) {
	fmt.Fprintf(w, "%s %s\n", binary, versionInfo.Version)
	if !full {
		return
	}

	fmt.Fprintf(w, "Commit: %s\n", versionInfo.Commit)
	fmt.Fprintf(w, "Built: %s\n", versionInfo.BuildDate)
	fmt.Fprintf(w, "Go: %s\n\n", runtime.Version())

	version := crucible.GetVersion()
	fmt.Fprintf(w, "Gofulmen: %s\n", version.Gofulmen)
	fmt.Fprintf(w, "Crucible: %s\n\n", version.Crucible)

	feeds := make([]string, 0, len(core.AllSources))
	for _, src := range core.AllSources {
		feeds = append(feeds, string(src))
	}
	fmt.Fprintf(w, "Feeds: %s\n", strings.Join(feeds, ", "))
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
