package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/prompt"
	"github.com/marmos91/trustkit/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
	initMechanism   string
	initRole        string
	initCertFile    string
	initKeyFile     string
	initRootCerts   string
	initService     string
	initRealm       string
	initKeytab      string
	initTicket      string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a trustkit configuration file.

By default the file is created at $XDG_CONFIG_HOME/trustkit/config.yaml.
Use --config to choose another path.

Examples:
  # PKI acceptor
  trustctl config init --mechanism pki --role acceptor \
    --cert node.pem --key node.key --root-certs ca.pem

  # Kerberos acceptor
  trustctl config init --mechanism negotiated-context --role acceptor \
    --service node/db1.example.com --realm EXAMPLE.COM --keytab node.keytab

  # Answer the questions interactively
  trustctl config init --interactive`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file without asking")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the settings")
	initCmd.Flags().StringVar(&initMechanism, "mechanism", config.MechanismPKI, "Mechanism (pki|negotiated-context)")
	initCmd.Flags().StringVar(&initRole, "role", config.RoleInitiator, "Role (initiator|acceptor)")
	initCmd.Flags().StringVar(&initCertFile, "cert", "", "PEM certificate chain (pki)")
	initCmd.Flags().StringVar(&initKeyFile, "key", "", "PEM private key (pki)")
	initCmd.Flags().StringVar(&initRootCerts, "root-certs", "", "Comma-separated PEM trust anchors (pki)")
	initCmd.Flags().StringVar(&initService, "service", "", "Service principal (negotiated-context)")
	initCmd.Flags().StringVar(&initRealm, "realm", "", "Kerberos realm (negotiated-context)")
	initCmd.Flags().StringVar(&initKeytab, "keytab", "", "Service keytab (negotiated-context acceptor)")
	initCmd.Flags().StringVar(&initTicket, "ticket", "", "Ticket file (negotiated-context initiator)")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cmdutil.Flags.ConfigFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		ok, err := prompt.ConfirmOverwrite(path, initForce)
		if err != nil {
			if prompt.IsAborted(err) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			return err
		}
		if !ok {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if initInteractive {
		if err := askInit(); err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			return err
		}
	}

	cfg := BuildInitConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	if err := config.Validate(cfg); err != nil {
		_, _ = fmt.Fprintf(out, "\nThe file is incomplete and must be edited before use:\n  %v\n", err)
		return nil
	}
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintf(out, "  trustctl config validate --config %s\n", path)
	return nil
}

// BuildInitConfig assembles a configuration from the init flags.
func BuildInitConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Mechanism = initMechanism
	cfg.Role = initRole

	switch initMechanism {
	case config.MechanismNegotiatedContext:
		ctx := &config.ContextConfig{
			Service: initService,
			Realm:   initRealm,
		}
		if initRole == config.RoleAcceptor {
			ctx.KeytabPath = initKeytab
		} else {
			ctx.TicketPath = initTicket
		}
		cfg.Credential.Context = ctx
	default:
		cfg.Credential.PKI = &config.PKIConfig{
			CertFile: initCertFile,
			KeyFile:  initKeyFile,
			TrustRoot: config.TrustRootConfig{
				RootCerts: cmdutil.ParseCommaSeparatedList(initRootCerts),
			},
		}
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func askInit() error {
	var err error
	if initMechanism, err = prompt.Select("Mechanism", []prompt.Option{
		{Label: "PKI", Value: config.MechanismPKI, Description: "X.509 certificates and trust anchors"},
		{Label: "Negotiated context", Value: config.MechanismNegotiatedContext, Description: "Kerberos tickets and keytabs"},
	}); err != nil {
		return err
	}
	if initRole, err = prompt.Select("Role", []prompt.Option{
		{Label: "Initiator", Value: config.RoleInitiator, Description: "Starts the handshake"},
		{Label: "Acceptor", Value: config.RoleAcceptor, Description: "Answers the handshake"},
	}); err != nil {
		return err
	}

	if initMechanism == config.MechanismPKI {
		if initCertFile, err = prompt.InputRequired("Certificate file", initCertFile); err != nil {
			return err
		}
		if initKeyFile, err = prompt.InputRequired("Key file", initKeyFile); err != nil {
			return err
		}
		initRootCerts, err = prompt.InputRequired("Trust anchors (comma-separated)", initRootCerts)
		return err
	}

	if initService, err = prompt.InputRequired("Service principal", initService); err != nil {
		return err
	}
	if initRealm, err = prompt.Input("Realm", initRealm); err != nil {
		return err
	}
	if initRole == config.RoleAcceptor {
		initKeytab, err = prompt.InputRequired("Keytab file", initKeytab)
		return err
	}
	initTicket, err = prompt.InputRequired("Ticket file", initTicket)
	return err
}
