// Package commands implements the trustctl command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/cmd/trustctl/commands/config"
	"github.com/marmos91/trustkit/cmd/trustctl/commands/credential"
	"github.com/marmos91/trustkit/cmd/trustctl/commands/handshake"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "trustctl",
	Short: "trustctl - peer authentication toolkit",
	Long: `trustctl inspects credentials, computes digests and runs authentication
handshakes with the trustkit PKI and negotiated-context (Kerberos) mechanisms.

Use "trustctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// ExitCode maps an error to the process exit status. Each error kind has
// its own status so scripts can tell a bad credential from a rejected peer.
func ExitCode(err error) int {
	switch tkerrors.KindOf(err) {
	case tkerrors.KindCredential:
		return 3
	case tkerrors.KindCodec:
		return 4
	case tkerrors.KindValidation:
		return 5
	case tkerrors.KindProtocol:
		return 6
	case tkerrors.KindMisuse:
		return 7
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.ConfigFile, "config", "", "config file (default: $XDG_CONFIG_HOME/trustkit/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().BoolVarP(&cmdutil.Flags.Verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(credential.Cmd)
	rootCmd.AddCommand(handshake.Cmd)
}
