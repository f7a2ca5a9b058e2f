package credential

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/prompt"
	"github.com/marmos91/trustkit/pkg/credential"
)

// minPasswordLength applies to interactively entered service passwords.
const minPasswordLength = 12

var (
	keytabService       string
	keytabRealm         string
	keytabKVNO          uint8
	keytabOut           string
	keytabPasswordStdin bool
)

var keytabCmd = &cobra.Command{
	Use:   "keytab",
	Short: "Derive a service keytab from a password",
	Long: `Derive AES keys for a service principal from a password and write them
as an MIT keytab. The password is prompted for unless --password-stdin is
given.

Examples:
  trustctl credential keytab --service node/db1.example.com \
    --realm EXAMPLE.COM --out node.keytab

  echo "$SERVICE_PASSWORD" | trustctl credential keytab --password-stdin \
    --service node/db1.example.com --realm EXAMPLE.COM --out node.keytab`,
	RunE: runKeytab,
}

func init() {
	keytabCmd.Flags().StringVar(&keytabService, "service", "", "Service principal")
	keytabCmd.Flags().StringVar(&keytabRealm, "realm", "", "Kerberos realm")
	keytabCmd.Flags().Uint8Var(&keytabKVNO, "kvno", 1, "Key version number")
	keytabCmd.Flags().StringVar(&keytabOut, "out", "", "Output keytab file")
	keytabCmd.Flags().BoolVar(&keytabPasswordStdin, "password-stdin", false, "Read the password from standard input")
	for _, f := range []string{"service", "realm", "out"} {
		_ = keytabCmd.MarkFlagRequired(f)
	}
}

func runKeytab(cmd *cobra.Command, args []string) error {
	var (
		password string
		err      error
	)
	if keytabPasswordStdin {
		line, rerr := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if rerr != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", rerr)
		}
		password = strings.TrimRight(line, "\r\n")
	} else if password, err = prompt.NewPassword("Service password", minPasswordLength); err != nil {
		if prompt.IsAborted(err) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		return err
	}

	kt, err := credential.NewKeytab(keytabService, keytabRealm, password, keytabKVNO)
	if err != nil {
		return err
	}
	if err := credential.WriteKeytabFile(keytabOut, kt); err != nil {
		return err
	}

	entries := make(keytabEntries, 0, len(kt.Entries))
	for _, e := range kt.Entries {
		entries = append(entries, keytabEntry{
			Principal: strings.Join(e.Principal.Components, "/") + "@" + e.Principal.Realm,
			KVNO:      e.KVNO8,
			EType:     e.Key.KeyType,
		})
	}
	p, err := cmdutil.Printer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	p.Notef("Keytab written to %s", keytabOut)
	return p.Print(entries)
}

type keytabEntry struct {
	Principal string `json:"principal" yaml:"principal"`
	KVNO      uint8  `json:"kvno" yaml:"kvno"`
	EType     int32  `json:"etype" yaml:"etype"`
}

type keytabEntries []keytabEntry

func (k keytabEntries) Headers() []string { return []string{"Principal", "KVNO", "EType"} }

func (k keytabEntries) Rows() [][]string {
	rows := make([][]string, len(k))
	for i, e := range k {
		rows[i] = []string{e.Principal, strconv.Itoa(int(e.KVNO)), strconv.Itoa(int(e.EType))}
	}
	return rows
}
