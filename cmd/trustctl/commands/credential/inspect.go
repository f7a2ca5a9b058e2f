package credential

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/output"
	"github.com/marmos91/trustkit/internal/cli/timeutil"
	"github.com/marmos91/trustkit/pkg/credential"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Describe the configured credential",
	Long: `Load the credential named by the configuration file and print a summary
of it. Secret material is never printed.

Examples:
  trustctl credential inspect --config /etc/trustkit/node.yaml
  trustctl credential inspect --output json`,
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig("")
	if err != nil {
		return err
	}

	store := credential.NewStore()
	defer func() { _ = store.Close(context.Background()) }()

	h, err := store.Load(cfg.CredentialConfig())
	if err != nil {
		return err
	}
	info, err := store.Describe(h)
	if err != nil {
		return err
	}
	return cmdutil.PrintResource(cmd.OutOrStdout(), info, infoFields(info, time.Now()))
}

func infoFields(info credential.Info, now time.Time) output.Fields {
	f := output.Fields{}.
		Add("Kind", string(info.Kind)).
		Add("Role", info.Role).
		Add("Subject", info.Subject)
	if info.Issuer != "" {
		f = f.Add("Issuer", info.Issuer)
	}
	f = f.Add("Expires", timeutil.FormatExpiry(info.NotAfter, now))
	if !info.Fingerprint.IsZero() {
		f = f.Add("Fingerprint", info.Fingerprint.String())
	}
	if info.Anchors > 0 {
		f = f.Add("Trust anchors", strconv.Itoa(info.Anchors))
	}
	return f
}
