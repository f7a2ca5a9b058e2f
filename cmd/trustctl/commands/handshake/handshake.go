// Package handshake implements handshake subcommands.
package handshake

import (
	"github.com/spf13/cobra"
)

// Cmd is the handshake subcommand.
var Cmd = &cobra.Command{
	Use:   "handshake",
	Short: "Run authentication handshakes",
	Long: `Run authentication handshakes between configured nodes.

Subcommands:
  loopback  Authenticate two configurations against each other in memory`,
}

func init() {
	Cmd.AddCommand(loopbackCmd)
}
