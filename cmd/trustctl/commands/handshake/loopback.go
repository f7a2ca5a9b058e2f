package handshake

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/marmos91/trustkit/cmd/trustctl/cmdutil"
	"github.com/marmos91/trustkit/internal/cli/output"
	"github.com/marmos91/trustkit/internal/cli/timeutil"
	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/internal/telemetry"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/auth/mechanism"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/metrics"
)

var (
	loopbackInitiator string
	loopbackAcceptor  string
	loopbackMessage   string
	loopbackMetrics   bool
	loopbackTimeout   time.Duration
)

var loopbackCmd = &cobra.Command{
	Use:   "loopback",
	Short: "Authenticate two configurations against each other",
	Long: `Load an initiator and an acceptor configuration, run the handshake
between them in memory and report what each side learned about the other.
With --message the established sessions also exchange a sealed message in
both directions.

The logging and telemetry sections of the initiator configuration apply.

Examples:
  trustctl handshake loopback --initiator alice.yaml --acceptor node.yaml
  trustctl handshake loopback --initiator alice.yaml --acceptor node.yaml \
    --message ping --metrics`,
	RunE: runLoopback,
}

func init() {
	loopbackCmd.Flags().StringVar(&loopbackInitiator, "initiator", "", "Initiator configuration file")
	loopbackCmd.Flags().StringVar(&loopbackAcceptor, "acceptor", "", "Acceptor configuration file")
	loopbackCmd.Flags().StringVar(&loopbackMessage, "message", "", "Message to seal and open in both directions")
	loopbackCmd.Flags().BoolVar(&loopbackMetrics, "metrics", false, "Print the collected metrics")
	loopbackCmd.Flags().DurationVar(&loopbackTimeout, "timeout", 30*time.Second, "Handshake timeout")
	_ = loopbackCmd.MarkFlagRequired("initiator")
	_ = loopbackCmd.MarkFlagRequired("acceptor")
}

// Report is the outcome of a loopback handshake.
type Report struct {
	Mechanism string     `json:"mechanism" yaml:"mechanism"`
	Initiator SideReport `json:"initiator" yaml:"initiator"`
	Acceptor  SideReport `json:"acceptor" yaml:"acceptor"`
	Message   string     `json:"message,omitempty" yaml:"message,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// SideReport is what one side of the handshake ended with.
type SideReport struct {
	State  string             `json:"state" yaml:"state"`
	Rounds int                `json:"rounds" yaml:"rounds"`
	Peer   *auth.PeerIdentity `json:"peer,omitempty" yaml:"peer,omitempty"`
}

func (r Report) Headers() []string {
	return []string{"Side", "State", "Rounds", "Peer", "Fingerprint", "Peer expires"}
}

func (r Report) Rows() [][]string {
	row := func(side string, s SideReport) []string {
		out := []string{side, s.State, strconv.Itoa(s.Rounds), "", "", ""}
		if s.Peer != nil {
			out[3] = s.Peer.String()
			out[4] = s.Peer.Fingerprint.String()
			out[5] = timeutil.FormatExpiry(s.Peer.NotAfter, time.Now())
		}
		return out
	}
	return [][]string{row("initiator", r.Initiator), row("acceptor", r.Acceptor)}
}

func runLoopback(cmd *cobra.Command, args []string) error {
	icfg, err := cmdutil.LoadConfig(loopbackInitiator)
	if err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	acfg, err := config.MustLoad(loopbackAcceptor)
	if err != nil {
		return fmt.Errorf("acceptor: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), loopbackTimeout)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetry.FromConfig(icfg.Telemetry, cmd.Root().Version))
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	var (
		reg *prometheus.Registry
		m   *metrics.Metrics
	)
	if loopbackMetrics || icfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		m = metrics.NewMetrics(reg)
	}

	report, err := Loopback(ctx, icfg, acfg, m, []byte(loopbackMessage))
	if err != nil {
		return err
	}

	p, err := cmdutil.Printer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := p.Print(report); err != nil {
		return err
	}
	if reg != nil && p.Format() == output.FormatTable {
		table, err := metricsTable(reg)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
		if err := output.PrintTable(cmd.OutOrStdout(), table); err != nil {
			return err
		}
	}
	if report.Error != "" {
		return fmt.Errorf("handshake failed: %s", report.Error)
	}
	return nil
}

// Loopback runs the handshake between icfg and acfg and, when msg is not
// empty, exchanges it sealed in both directions. A failed handshake is
// reported in Report.Error; the returned error covers setup problems.
func Loopback(ctx context.Context, icfg, acfg *config.Config, m *metrics.Metrics, msg []byte) (Report, error) {
	if icfg.Mechanism != acfg.Mechanism {
		return Report{}, fmt.Errorf("mechanism mismatch: initiator uses %s, acceptor uses %s", icfg.Mechanism, acfg.Mechanism)
	}
	if icfg.Role != config.RoleInitiator || acfg.Role != config.RoleAcceptor {
		return Report{}, fmt.Errorf("roles must be initiator and acceptor, got %s and %s", icfg.Role, acfg.Role)
	}

	store := credential.NewStore(credential.WithMetrics(m))
	defer func() { _ = store.Close(context.Background()) }()

	hi, err := store.Load(icfg.CredentialConfig())
	if err != nil {
		return Report{}, fmt.Errorf("initiator credential: %w", err)
	}
	ha, err := store.Load(acfg.CredentialConfig())
	if err != nil {
		return Report{}, fmt.Errorf("acceptor credential: %w", err)
	}

	initiator, err := mechanism.NewSession(icfg, store, hi, m)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = initiator.Close() }()
	acceptor, err := mechanism.NewSession(acfg, store, ha, m)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = acceptor.Close() }()

	report := Report{Mechanism: icfg.Mechanism}
	hsErr := mechanism.Loopback(ctx, initiator, acceptor)
	report.Initiator = side(initiator)
	report.Acceptor = side(acceptor)
	if hsErr != nil {
		logger.WarnCtx(ctx, "Loopback handshake failed", logger.Err(hsErr))
		report.Error = hsErr.Error()
		return report, nil
	}

	if len(msg) > 0 {
		if err := exchange(initiator, acceptor, msg); err != nil {
			report.Error = err.Error()
			return report, nil
		}
		report.Message = "sealed and opened in both directions"
	}
	return report, nil
}

func side(s *auth.Session) SideReport {
	r := SideReport{State: s.State().String(), Rounds: s.Rounds()}
	if peer, ok := s.Peer(); ok {
		r.Peer = &peer
	}
	return r
}

func exchange(initiator, acceptor *auth.Session, msg []byte) error {
	ic, ok := initiator.Capability()
	if !ok {
		return fmt.Errorf("initiator has no capability")
	}
	ac, ok := acceptor.Capability()
	if !ok {
		return fmt.Errorf("acceptor has no capability")
	}
	for _, dir := range []struct {
		name     string
		from, to auth.Capability
	}{
		{"initiator to acceptor", ic, ac},
		{"acceptor to initiator", ac, ic},
	} {
		sealed, err := dir.from.Seal(msg)
		if err != nil {
			return fmt.Errorf("%s: %w", dir.name, err)
		}
		opened, err := dir.to.Unseal(sealed)
		if err != nil {
			return fmt.Errorf("%s: %w", dir.name, err)
		}
		if !bytes.Equal(opened, msg) {
			return fmt.Errorf("%s: message altered in transit", dir.name)
		}
	}
	return nil
}

// metricsTable flattens the counters and gauges of reg. Histograms are
// summarized by their sample count.
func metricsTable(reg *prometheus.Registry) (*output.Table, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}
	table := output.NewTable("Metric", "Labels", "Value")
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			table.AddRow(mf.GetName(), labels(metric), value(mf.GetType(), metric))
		}
	}
	return table, nil
}

func labels(m *dto.Metric) string {
	pairs := make([]string, 0, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return fmt.Sprint(pairs)
}

func value(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return strconv.FormatFloat(m.GetCounter().GetValue(), 'f', -1, 64)
	case dto.MetricType_GAUGE:
		return strconv.FormatFloat(m.GetGauge().GetValue(), 'f', -1, 64)
	case dto.MetricType_HISTOGRAM:
		return "count=" + strconv.FormatUint(m.GetHistogram().GetSampleCount(), 10)
	default:
		return ""
	}
}
