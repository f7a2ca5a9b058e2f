package config

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/output"
	"github.com/marmos91/trustkit/internal/cli/timeutil"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a trustkit configuration file.

Checks for syntax errors, missing required fields and invalid values, then
loads the configured credential material to make sure it is usable.

Examples:
  trustctl config validate
  trustctl config validate --config /etc/trustkit/node.yaml`,
	RunE: runConfigValidate,
}

type validation struct {
	Config     string          `json:"config" yaml:"config"`
	Mechanism  string          `json:"mechanism" yaml:"mechanism"`
	Role       string          `json:"role" yaml:"role"`
	Digests    []string        `json:"digests" yaml:"digests"`
	Credential credential.Info `json:"credential" yaml:"credential"`
	Warnings   []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
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

	displayPath := cmdutil.Flags.ConfigFile
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}
	v := validation{
		Config:     displayPath,
		Mechanism:  cfg.Mechanism,
		Role:       cfg.Role,
		Digests:    cfg.Digest.Preference,
		Credential: info,
		Warnings:   warnings(cfg, info, time.Now()),
	}

	fields := output.Fields{}.
		Add("Configuration file", v.Config).
		Add("Validation", "OK").
		Add("Mechanism", v.Mechanism).
		Add("Role", v.Role).
		Add("Credential", info.Subject).
		Add("Expires", timeutil.FormatExpiry(info.NotAfter, time.Now()))
	for _, w := range v.Warnings {
		fields = fields.Add("Warning", w)
	}
	return cmdutil.PrintResource(cmd.OutOrStdout(), v, fields)
}

// expiryWarning is how close to expiry a credential must be to be flagged.
const expiryWarning = 24 * time.Hour

func warnings(cfg *config.Config, info credential.Info, now time.Time) []string {
	var out []string
	if !info.NotAfter.IsZero() && info.NotAfter.Sub(now) < expiryWarning {
		out = append(out, "credential expires within 24h")
	}
	if cfg.Mechanism == config.MechanismPKI && cfg.Credential.PKI != nil {
		if len(cfg.Credential.PKI.TrustRoot.CRLs) == 0 && cfg.Credential.PKI.TrustRoot.CRLCheck {
			out = append(out, "crl_check is set but no CRLs are configured")
		}
	}
	if cfg.Mechanism == config.MechanismNegotiatedContext && cfg.Credential.Context != nil {
		if cfg.Credential.Context.Security.Mode != config.SecurityRequired {
			out = append(out, "security mode is optional; the acceptor subkey is not enforced")
		}
	}
	return out
}
