package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/output"
	"github.com/marmos91/trustkit/pkg/digest"
)

var (
	digestAlgorithm string
	digestList      bool
	digestVerify    string
)

var digestCmd = &cobra.Command{
	Use:   "digest [file...]",
	Short: "Compute message digests",
	Long: `Compute a digest of each file, or of standard input when no file is given.

Digests are printed as "algorithm:hex".

Examples:
  # SHA3-512 of a file
  trustctl digest ticket.pem

  # Whirlpool of standard input
  cat blob | trustctl digest --algorithm whirlpool

  # Check a file against a known digest
  trustctl digest ticket.pem --verify SHA384:9a3f...

  # List supported algorithms
  trustctl digest --list`,
	RunE: runDigest,
}

func init() {
	digestCmd.Flags().StringVarP(&digestAlgorithm, "algorithm", "a", digest.Default.String(), "Digest algorithm")
	digestCmd.Flags().BoolVar(&digestList, "list", false, "List supported algorithms")
	digestCmd.Flags().StringVar(&digestVerify, "verify", "", "Expected digest (algorithm:hex); implies the algorithm")
}

type digestResult struct {
	File   string        `json:"file" yaml:"file"`
	Digest digest.Digest `json:"digest" yaml:"digest"`
	Match  *bool         `json:"match,omitempty" yaml:"match,omitempty"`
}

type digestResults []digestResult

func (r digestResults) Headers() []string { return []string{"File", "Digest", "Match"} }

func (r digestResults) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, res := range r {
		match := ""
		if res.Match != nil {
			match = strconv.FormatBool(*res.Match)
		}
		rows[i] = []string{res.File, res.Digest.String(), match}
	}
	return rows
}

func runDigest(cmd *cobra.Command, args []string) error {
	if digestList {
		table := output.NewTable("Algorithm", "Size")
		for _, alg := range digest.All() {
			table.AddRow(alg.String(), strconv.Itoa(alg.Size()))
		}
		return output.PrintTable(cmd.OutOrStdout(), table)
	}

	var (
		alg      digest.Algorithm
		expected digest.Digest
		err      error
	)
	if digestVerify != "" {
		if expected, err = digest.ParseDigest(digestVerify); err != nil {
			return err
		}
		alg = expected.Algorithm()
	} else if alg, err = digest.ParseAlgorithm(digestAlgorithm); err != nil {
		return err
	}

	if len(args) == 0 {
		args = []string{"-"}
	}

	results := make(digestResults, 0, len(args))
	mismatch := false
	for _, name := range args {
		d, err := digestFile(cmd.InOrStdin(), alg, name)
		if err != nil {
			return err
		}
		res := digestResult{File: name, Digest: d}
		if digestVerify != "" {
			ok := d.Equal(expected)
			res.Match = &ok
			mismatch = mismatch || !ok
		}
		results = append(results, res)
	}

	if err := cmdutil.PrintResource(cmd.OutOrStdout(), results, results); err != nil {
		return err
	}
	if mismatch {
		return fmt.Errorf("digest mismatch")
	}
	return nil
}

func digestFile(stdin io.Reader, alg digest.Algorithm, name string) (digest.Digest, error) {
	if name == "-" {
		return digest.SumReader(alg, stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()
	return digest.SumReader(alg, f)
}
