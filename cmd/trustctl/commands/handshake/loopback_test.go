package handshake

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/trustkit/internal/fixture"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/metrics"
)

func pkiConfig(role string, files fixture.PKIFiles) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Role = role
	cfg.Credential.PKI = &config.PKIConfig{
		CertFile: files.CertFile,
		KeyFile:  files.KeyFile,
		TrustRoot: config.TrustRootConfig{
			RootCerts:   []string{files.CAFile},
			VerifyDepth: config.DefaultVerifyDepth,
		},
	}
	return cfg
}

func TestLoopback(t *testing.T) {
	dir := t.TempDir()
	ca := fixture.NewCA(t, "trustkit root")
	a := fixture.WritePKI(t, dir, "node-a", ca.Issue(t, "node-a"), ca)
	b := fixture.WritePKI(t, dir, "node-b", ca.Issue(t, "node-b"), ca)

	reg := prometheus.NewRegistry()
	report, err := Loopback(context.Background(),
		pkiConfig(config.RoleInitiator, a),
		pkiConfig(config.RoleAcceptor, b),
		metrics.NewMetrics(reg),
		[]byte("ping"))
	require.NoError(t, err)

	assert.Empty(t, report.Error)
	assert.Equal(t, config.MechanismPKI, report.Mechanism)
	assert.Equal(t, "Established", report.Initiator.State)
	assert.Equal(t, "Established", report.Acceptor.State)
	require.NotNil(t, report.Initiator.Peer)
	assert.Contains(t, report.Initiator.Peer.Name, "node-b")
	assert.NotEmpty(t, report.Message)

	rows := report.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "initiator", rows[0][0])
	assert.Contains(t, rows[1][3], "node-a")

	table, err := metricsTable(reg)
	require.NoError(t, err)
	assert.NotEmpty(t, table.Rows())
}

func TestLoopback_Failure(t *testing.T) {
	dir := t.TempDir()
	ca := fixture.NewCA(t, "trustkit root")
	other := fixture.NewCA(t, "other root")
	a := fixture.WritePKI(t, dir, "node-a", ca.Issue(t, "node-a"), ca)
	b := fixture.WritePKI(t, dir, "node-b", other.Issue(t, "node-b"), other)

	report, err := Loopback(context.Background(),
		pkiConfig(config.RoleInitiator, a),
		pkiConfig(config.RoleAcceptor, b),
		nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Error)
	assert.Equal(t, "Failed", report.Acceptor.State)
	assert.Nil(t, report.Acceptor.Peer)
}

func TestLoopback_ConfigMismatch(t *testing.T) {
	icfg := config.GetDefaultConfig()
	acfg := config.GetDefaultConfig()
	acfg.Mechanism = config.MechanismNegotiatedContext
	_, err := Loopback(context.Background(), icfg, acfg, nil, nil)
	assert.ErrorContains(t, err, "mechanism mismatch")

	acfg.Mechanism = config.MechanismPKI
	_, err = Loopback(context.Background(), icfg, acfg, nil, nil)
	assert.ErrorContains(t, err, "roles must be")
}
