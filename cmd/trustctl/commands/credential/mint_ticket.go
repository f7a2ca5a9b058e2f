package credential

import (
	"fmt"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/output"
	"github.com/marmos91/trustkit/internal/cli/timeutil"
	"github.com/marmos91/trustkit/pkg/credential"
)

var (
	mintKeytab   string
	mintService  string
	mintRealm    string
	mintClient   string
	mintLifetime time.Duration
	mintEType    int32
	mintOut      string
)

var mintTicketCmd = &cobra.Command{
	Use:   "mint-ticket",
	Short: "Issue a service ticket from a keytab",
	Long: `Issue a service ticket for a client directly from the service keytab,
without a KDC. The ticket and its session key are written as a PEM
"TRUSTKIT TICKET" file for use as an initiator ticket_path.

Examples:
  trustctl credential mint-ticket --keytab node.keytab \
    --service node/db1.example.com --realm EXAMPLE.COM \
    --client alice --lifetime 8h --out alice.tkt`,
	RunE: runMintTicket,
}

func init() {
	mintTicketCmd.Flags().StringVar(&mintKeytab, "keytab", "", "Service keytab")
	mintTicketCmd.Flags().StringVar(&mintService, "service", "", "Service principal")
	mintTicketCmd.Flags().StringVar(&mintRealm, "realm", "", "Kerberos realm")
	mintTicketCmd.Flags().StringVar(&mintClient, "client", "", "Client principal")
	mintTicketCmd.Flags().DurationVar(&mintLifetime, "lifetime", credential.DefaultTicketLifetime, "Ticket lifetime")
	mintTicketCmd.Flags().Int32Var(&mintEType, "etype", 0, "Encryption type number (default AES256-CTS-HMAC-SHA1-96)")
	mintTicketCmd.Flags().StringVar(&mintOut, "out", "", "Output ticket file")
	for _, f := range []string{"keytab", "service", "realm", "client", "out"} {
		_ = mintTicketCmd.MarkFlagRequired(f)
	}
}

type mintResult struct {
	File    string    `json:"file" yaml:"file"`
	Client  string    `json:"client" yaml:"client"`
	Service string    `json:"service" yaml:"service"`
	Realm   string    `json:"realm" yaml:"realm"`
	KeyType int       `json:"key_type" yaml:"key_type"`
	EndTime time.Time `json:"end_time" yaml:"end_time"`
}

func runMintTicket(cmd *cobra.Command, args []string) error {
	kt, err := keytab.Load(mintKeytab)
	if err != nil {
		return fmt.Errorf("failed to load keytab %s: %w", mintKeytab, err)
	}

	tc, err := credential.MintTicket(kt, credential.TicketRequest{
		Client:   mintClient,
		Service:  mintService,
		Realm:    mintRealm,
		EType:    mintEType,
		Lifetime: mintLifetime,
	})
	if err != nil {
		return err
	}
	defer clear(tc.Key)

	if err := credential.WriteTicketFile(mintOut, tc); err != nil {
		return err
	}

	res := mintResult{
		File:    mintOut,
		Client:  tc.Client,
		Service: tc.Service,
		Realm:   tc.Realm,
		KeyType: tc.KeyType,
		EndTime: tc.EndTime,
	}
	fields := output.Fields{}.
		Add("Ticket file", res.File).
		Add("Client", res.Client+"@"+res.Realm).
		Add("Service", res.Service+"@"+res.Realm).
		Add("Expires", timeutil.FormatExpiry(res.EndTime, time.Now()))
	return cmdutil.PrintResource(cmd.OutOrStdout(), res, fields)
}
