// Package cmdutil provides shared utilities for trustctl commands.
package cmdutil

import (
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/trustkit/internal/cli/output"
	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/pkg/config"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
}

// Printer returns a printer for w in the --output format.
func Printer(w io.Writer) (*output.Printer, error) {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(w, format), nil
}

// PrintResource prints data as JSON or YAML, or table in table format.
func PrintResource(w io.Writer, data any, table output.TableRenderer) error {
	p, err := Printer(w)
	if err != nil {
		return err
	}
	if p.Format() == output.FormatTable {
		return output.PrintTable(w, table)
	}
	return p.Print(data)
}

// LoadConfig loads and validates the configuration at path, falling back
// to the --config flag and then to the default location.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = Flags.ConfigFile
	}
	cfg, err := config.MustLoad(path)
	if err != nil {
		return nil, err
	}
	if err := InitLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitLogging applies cfg's logging section. --verbose forces DEBUG.
func InitLogging(cfg *config.Config) error {
	lc := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if Flags.Verbose {
		lc.Level = "DEBUG"
	}
	if err := logger.Init(lc); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// ParseCommaSeparatedList splits s on commas, trimming blanks and
// dropping empty items.
func ParseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
