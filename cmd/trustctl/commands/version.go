package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "trustctl %s\n", Version)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", Commit)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", Date)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  go:      %s\n", runtime.Version())
	},
}
