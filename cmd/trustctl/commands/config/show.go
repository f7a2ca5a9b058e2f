package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/output"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective trustkit configuration, defaults and environment
overrides included.

By default outputs YAML. Use --output json for JSON.

Examples:
  trustctl config show
  trustctl config show --output json --config /etc/trustkit/node.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig("")
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(cmdutil.Flags.Output)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
