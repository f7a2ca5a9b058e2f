// Package credential implements credential subcommands.
package credential

import (
	"github.com/spf13/cobra"
)

// Cmd is the credential subcommand.
var Cmd = &cobra.Command{
	Use:   "credential",
	Short: "Credential management",
	Long: `Inspect and create credential material.

Subcommands:
  inspect      Load the configured credential and describe it
  mint-ticket  Issue a service ticket from a keytab
  keytab       Derive a service keytab from a password`,
}

func init() {
	Cmd.AddCommand(inspectCmd)
	Cmd.AddCommand(mintTicketCmd)
	Cmd.AddCommand(keytabCmd)
}
