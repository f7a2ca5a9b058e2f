package mechanism

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/trustkit/internal/fixture"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
	"github.com/marmos91/trustkit/pkg/metrics"
)

func TestNew(t *testing.T) {
	for _, name := range Names {
		for _, role := range []string{config.RoleInitiator, config.RoleAcceptor} {
			t.Run(name+"/"+role, func(t *testing.T) {
				m, err := New(name, role, nil)
				require.NoError(t, err)
				assert.Equal(t, name, m.Name())
				assert.Equal(t, role, m.Role())
			})
		}
	}
}

func TestNew_Unknown(t *testing.T) {
	m, err := New("smoke-signals", config.RoleInitiator, nil)
	assert.Nil(t, m)
	assert.Equal(t, tkerrors.ErrUnsupported, tkerrors.CodeOf(err))

	m, err = New(config.MechanismPKI, "bystander", nil)
	assert.Nil(t, m)
	assert.Equal(t, tkerrors.ErrUnsupported, tkerrors.CodeOf(err))

	m, err = New(config.MechanismNegotiatedContext, "bystander", []digest.Algorithm{digest.SHA384})
	assert.Nil(t, m)
	assert.Equal(t, tkerrors.ErrUnsupported, tkerrors.CodeOf(err))
}

func TestFromConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Mechanism = config.MechanismNegotiatedContext
	cfg.Role = config.RoleAcceptor
	cfg.Digest.Preference = []string{"sha384"}

	m, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.MechanismNegotiatedContext, m.Name())
	assert.Equal(t, config.RoleAcceptor, m.Role())

	cfg.Digest.Preference = []string{"md5"}
	_, err = FromConfig(cfg)
	assert.Error(t, err)
}

// ============================================================================
// Loopback
// ============================================================================

func pkiConfig(role string, files fixture.PKIFiles) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Mechanism = config.MechanismPKI
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

func loopbackSessions(t *testing.T, icfg, acfg *config.Config, m *metrics.Metrics) (*auth.Session, *auth.Session) {
	t.Helper()
	store := credential.NewStore()
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	hi, err := store.Load(icfg.CredentialConfig())
	require.NoError(t, err)
	ha, err := store.Load(acfg.CredentialConfig())
	require.NoError(t, err)

	initiator, err := NewSession(icfg, store, hi, m)
	require.NoError(t, err)
	acceptor, err := NewSession(acfg, store, ha, m)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = initiator.Close()
		_ = acceptor.Close()
	})
	return initiator, acceptor
}

func TestLoopback_PKI(t *testing.T) {
	dir := t.TempDir()
	ca := fixture.NewCA(t, "trustkit root")
	a := fixture.WritePKI(t, dir, "node-a", ca.Issue(t, "node-a"), ca)
	b := fixture.WritePKI(t, dir, "node-b", ca.Issue(t, "node-b"), ca)

	reg := prometheus.NewRegistry()
	initiator, acceptor := loopbackSessions(t,
		pkiConfig(config.RoleInitiator, a),
		pkiConfig(config.RoleAcceptor, b),
		metrics.NewMetrics(reg))

	require.NoError(t, Loopback(context.Background(), initiator, acceptor))
	assert.Equal(t, auth.StateEstablished, initiator.State())
	assert.Equal(t, auth.StateEstablished, acceptor.State())

	peer, ok := initiator.Peer()
	require.True(t, ok)
	assert.Contains(t, peer.Name, "node-b")
	peer, ok = acceptor.Peer()
	require.True(t, ok)
	assert.Contains(t, peer.Name, "node-a")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestLoopback_PKIUntrustedPeer(t *testing.T) {
	dir := t.TempDir()
	ca := fixture.NewCA(t, "trustkit root")
	other := fixture.NewCA(t, "other root")
	a := fixture.WritePKI(t, dir, "node-a", ca.Issue(t, "node-a"), ca)
	b := fixture.WritePKI(t, dir, "node-b", other.Issue(t, "node-b"), other)

	initiator, acceptor := loopbackSessions(t,
		pkiConfig(config.RoleInitiator, a),
		pkiConfig(config.RoleAcceptor, b),
		nil)

	err := Loopback(context.Background(), initiator, acceptor)
	require.Error(t, err)
	assert.Equal(t, tkerrors.KindValidation, tkerrors.KindOf(err))
	assert.Equal(t, auth.StateFailed, initiator.State())
	assert.Equal(t, auth.StateFailed, acceptor.State())
}

func contextConfig(role string, c config.ContextConfig) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Mechanism = config.MechanismNegotiatedContext
	cfg.Role = role
	c.Service = "node/db1.example.com"
	c.Realm = fixture.Realm
	cfg.Credential.Context = &c
	return cfg
}

func TestLoopback_NegotiatedContext(t *testing.T) {
	for _, confirm := range []bool{false, true} {
		name := "without confirmation"
		if confirm {
			name = "with confirmation"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			kt := fixture.NewKeytab(t, "node/db1.example.com", fixture.Realm, "s3cret")
			ktPath := fixture.WriteKeytab(t, dir, "service.keytab", kt)

			tc, err := credential.MintTicket(kt, credential.TicketRequest{
				Client:   "alice",
				Service:  "node/db1.example.com",
				Realm:    fixture.Realm,
				Lifetime: time.Hour,
			})
			require.NoError(t, err)
			tktPath := filepath.Join(dir, "alice.tkt")
			require.NoError(t, credential.WriteTicketFile(tktPath, tc))

			initiator, acceptor := loopbackSessions(t,
				contextConfig(config.RoleInitiator, config.ContextConfig{TicketPath: tktPath}),
				contextConfig(config.RoleAcceptor, config.ContextConfig{KeytabPath: ktPath, RequireConfirmation: confirm}),
				nil)

			require.NoError(t, Loopback(context.Background(), initiator, acceptor))
			assert.Equal(t, auth.StateEstablished, initiator.State())
			assert.Equal(t, auth.StateEstablished, acceptor.State())

			peer, ok := acceptor.Peer()
			require.True(t, ok)
			assert.Equal(t, "alice", peer.Name)
			assert.Equal(t, fixture.Realm, peer.Realm)
		})
	}
}
