package credential

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/trustkit/internal/fixture"
	"github.com/marmos91/trustkit/pkg/codec"
	"github.com/marmos91/trustkit/pkg/config"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

const (
	testService  = "node/db1.example.com"
	testPassword = "service-password"
)

func pkiConfig(files fixture.PKIFiles) *config.CredentialConfig {
	return &config.CredentialConfig{
		Mechanism: config.MechanismPKI,
		Role:      config.RoleAcceptor,
		PKI: &config.PKIConfig{
			CertFile: files.CertFile,
			KeyFile:  files.KeyFile,
			TrustRoot: config.TrustRootConfig{
				RootCerts: []string{files.CAFile},
			},
		},
	}
}

func requireCode(t *testing.T, err error, code tkerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, tkerrors.IsCredentialError(err), "expected CredentialError, got %v", err)
	assert.Equal(t, code, tkerrors.CodeOf(err), "got %v", err)
}

// ============================================================================
// PKI
// ============================================================================

func TestLoad_PKI(t *testing.T) {
	dir := t.TempDir()
	root := fixture.NewCA(t, "root")
	inter := root.NewIntermediate(t, "intermediate")
	leaf := inter.Issue(t, "node-a")
	files := fixture.WritePKI(t, dir, "node-a", leaf, inter)

	s := NewStore()
	cfg := pkiConfig(files)
	h, err := s.Load(cfg)
	require.NoError(t, err)

	assert.Zero(t, cfg.PKI.TrustRoot.VerifyDepth, "defaults are applied to a copy")

	lease, err := s.Borrow(h)
	require.NoError(t, err)
	defer lease.Release()

	m := lease.Credential().PKI
	require.NotNil(t, m)
	assert.Len(t, m.Chain, 2, "leaf followed by the intermediate")
	assert.Equal(t, "node-a", m.Leaf().Subject.CommonName)
	assert.Equal(t, config.DefaultVerifyDepth, m.VerifyDepth)
	assert.Equal(t, 1, m.RootCount)
	assert.Equal(t, config.RoleAcceptor, lease.Credential().Role)

	_, err = m.Leaf().Verify(x509.VerifyOptions{
		Roots:         m.Roots,
		Intermediates: poolOf(m.Chain[1:]...),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	assert.NoError(t, err, "loaded anchors validate the loaded chain")
}

func poolOf(certs ...*x509.Certificate) *x509.CertPool {
	p := x509.NewCertPool()
	for _, c := range certs {
		p.AddCert(c)
	}
	return p
}

func TestLoad_PKIKeyTypes(t *testing.T) {
	for name, kt := range map[string]fixture.KeyType{
		"ecdsa": fixture.KeyECDSA,
		"rsa":   fixture.KeyRSA,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			ca := fixture.NewCA(t, "root")
			leaf := ca.Issue(t, "node-"+name, fixture.WithKeyType(kt))
			files := fixture.WritePKI(t, dir, "node", leaf, ca)

			// Legacy PEM key encodings are accepted too.
			var block *pem.Block
			switch k := leaf.Key.(type) {
			case *ecdsa.PrivateKey:
				der, err := x509.MarshalECPrivateKey(k)
				require.NoError(t, err)
				block = &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
			case *rsa.PrivateKey:
				block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}
			}
			files.KeyFile = fixture.WriteFile(t, dir, "legacy.key", pem.EncodeToMemory(block))

			_, err := NewStore().Load(pkiConfig(files))
			require.NoError(t, err)
		})
	}
}

func TestLoad_PKIAnchorDirAndCRLs(t *testing.T) {
	dir := t.TempDir()
	anchors := filepath.Join(dir, "anchors")
	require.NoError(t, os.Mkdir(anchors, 0700))

	ca := fixture.NewCA(t, "root")
	other := fixture.NewCA(t, "other-root")
	leaf := ca.Issue(t, "node-a")
	revoked := ca.Issue(t, "node-b")
	files := fixture.WritePKI(t, dir, "node-a", leaf, ca)

	fixture.WriteFile(t, anchors, "root.pem", fixture.CertPEM(ca.Cert))
	fixture.WriteFile(t, anchors, "other.CRT", fixture.CertPEM(other.Cert))
	fixture.WriteFile(t, anchors, "README", []byte("not an anchor"))

	crlDER := ca.CRL(t, revoked.Cert)
	pemCRL := fixture.WriteFile(t, dir, "root.crl.pem", pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crlDER}))
	derCRL := fixture.WriteFile(t, dir, "root.crl", crlDER)

	cfg := pkiConfig(files)
	cfg.PKI.TrustRoot = config.TrustRootConfig{
		Dirs:     []string{anchors},
		CRLs:     []string{pemCRL, derCRL},
		CRLCheck: true,
	}

	s := NewStore()
	h, err := s.Load(cfg)
	require.NoError(t, err)

	err = s.With(h, func(c *Credential) error {
		assert.Equal(t, 2, c.PKI.RootCount)
		require.Len(t, c.PKI.CRLs, 2)
		assert.True(t, c.PKI.CRLCheck)
		assert.Equal(t, 0, revoked.Cert.SerialNumber.Cmp(c.PKI.CRLs[0].RevokedCertificateEntries[0].SerialNumber))
		return nil
	})
	require.NoError(t, err)
}

func TestLoad_PKIErrors(t *testing.T) {
	dir := t.TempDir()
	ca := fixture.NewCA(t, "root")
	leaf := ca.Issue(t, "node-a")
	other := ca.Issue(t, "node-b")
	files := fixture.WritePKI(t, dir, "node-a", leaf, ca)
	garbage := fixture.WriteFile(t, dir, "garbage.pem", []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"))

	tests := []struct {
		name   string
		mutate func(*config.CredentialConfig)
		code   tkerrors.Code
	}{
		{"missing cert file", func(c *config.CredentialConfig) { c.PKI.CertFile = filepath.Join(dir, "nope.pem") }, tkerrors.ErrUnreadable},
		{"missing key file", func(c *config.CredentialConfig) { c.PKI.KeyFile = filepath.Join(dir, "nope.key") }, tkerrors.ErrUnreadable},
		{"missing anchor", func(c *config.CredentialConfig) { c.PKI.TrustRoot.RootCerts = []string{filepath.Join(dir, "nope")} }, tkerrors.ErrUnreadable},
		{"missing anchor dir", func(c *config.CredentialConfig) {
			c.PKI.TrustRoot.Dirs = []string{filepath.Join(dir, "nodir")}
		}, tkerrors.ErrUnreadable},
		{"garbage certificate", func(c *config.CredentialConfig) { c.PKI.CertFile = garbage }, tkerrors.ErrMalformed},
		{"key is not pem", func(c *config.CredentialConfig) {
			c.PKI.KeyFile = fixture.WriteFile(t, dir, "plain.key", []byte("not a key"))
		}, tkerrors.ErrMalformed},
		{"key mismatch", func(c *config.CredentialConfig) {
			c.PKI.KeyFile = fixture.WriteFile(t, dir, "other.key", fixture.KeyPEM(t, other.Key))
		}, tkerrors.ErrMalformed},
		{"garbage crl", func(c *config.CredentialConfig) { c.PKI.TrustRoot.CRLs = []string{files.KeyFile} }, tkerrors.ErrMalformed},
		{"no anchors in config", func(c *config.CredentialConfig) { c.PKI.TrustRoot.RootCerts = nil }, tkerrors.ErrMalformed},
		{"empty anchor dir", func(c *config.CredentialConfig) {
			empty := filepath.Join(dir, "empty")
			require.NoError(t, os.MkdirAll(empty, 0700))
			c.PKI.TrustRoot = config.TrustRootConfig{Dirs: []string{empty}}
		}, tkerrors.ErrMalformed},
		{"pkcs12 garbage", func(c *config.CredentialConfig) {
			c.PKI.CertFile, c.PKI.KeyFile = "", ""
			c.PKI.PKCS12File = garbage
		}, tkerrors.ErrMalformed},
		{"missing pki section", func(c *config.CredentialConfig) { c.PKI = nil }, tkerrors.ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := pkiConfig(files)
			tt.mutate(cfg)
			_, err := NewStore().Load(cfg)
			requireCode(t, err, tt.code)
		})
	}
}

func TestLoad_NilConfig(t *testing.T) {
	_, err := NewStore().Load(nil)
	requireCode(t, err, tkerrors.ErrMalformed)
}

func TestLoad_ErrorsDoNotLeakPaths(t *testing.T) {
	cfg := pkiConfig(fixture.PKIFiles{
		CertFile: "/very/secret/location/node.pem",
		KeyFile:  "/very/secret/location/node.key",
		CAFile:   "/very/secret/location/ca.pem",
	})
	_, err := NewStore().Load(cfg)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "/very/secret")
}

// ============================================================================
// Negotiated context
// ============================================================================

func contextConfig(role string, c config.ContextConfig) *config.CredentialConfig {
	return &config.CredentialConfig{
		Mechanism: config.MechanismNegotiatedContext,
		Role:      role,
		Context:   &c,
	}
}

func TestLoad_ContextAcceptor(t *testing.T) {
	dir := t.TempDir()
	kt := fixture.NewKeytab(t, testService, fixture.Realm, testPassword)
	path := fixture.WriteKeytab(t, dir, "node.keytab", kt)

	s := NewStore()
	h, err := s.Load(contextConfig(config.RoleAcceptor, config.ContextConfig{
		Service:             testService,
		Realm:               fixture.Realm,
		KeytabPath:          path,
		RequireConfirmation: true,
	}))
	require.NoError(t, err)

	err = s.With(h, func(c *Credential) error {
		assert.Equal(t, KindContext, c.Kind())
		m := c.Context
		require.NotNil(t, m.Keytab)
		assert.Equal(t, testService, m.KeytabService)
		assert.Equal(t, fixture.Realm, m.Realm)
		assert.Equal(t, config.DefaultMaxClockSkew, m.MaxClockSkew)
		assert.Equal(t, config.SecurityOptional, m.SecurityMode)
		assert.True(t, m.RequireConfirmation)
		return nil
	})
	require.NoError(t, err)

	info, err := s.Describe(h)
	require.NoError(t, err)
	assert.Equal(t, testService+"@"+fixture.Realm, info.Subject)

	// Keys are zeroed on evict.
	var keyRef []byte
	require.NoError(t, s.With(h, func(c *Credential) error {
		keyRef = c.Context.Keytab.Entries[0].Key.KeyValue
		return nil
	}))
	require.NoError(t, s.TryEvict(h))
	assert.True(t, allZero(keyRef))
}

func TestLoad_ContextRealmFromKrb5Conf(t *testing.T) {
	dir := t.TempDir()
	kt := fixture.NewKeytab(t, testService, fixture.Realm, testPassword)
	krb5 := fixture.WriteFile(t, dir, "krb5.conf", []byte(`[libdefaults]
  default_realm = EXAMPLE.COM
`))

	s := NewStore()
	h, err := s.Load(contextConfig(config.RoleAcceptor, config.ContextConfig{
		Service:    testService,
		KeytabPath: fixture.WriteKeytab(t, dir, "node.keytab", kt),
		Krb5Conf:   krb5,
	}))
	require.NoError(t, err)

	require.NoError(t, s.With(h, func(c *Credential) error {
		assert.Equal(t, fixture.Realm, c.Context.Realm)
		assert.NotNil(t, c.Context.Krb5Conf)
		return nil
	}))
}

func TestLoad_ContextAcceptorErrors(t *testing.T) {
	dir := t.TempDir()
	kt := fixture.NewKeytab(t, "host/other.example.com", fixture.Realm, testPassword)
	wrong := fixture.WriteKeytab(t, dir, "wrong.keytab", kt)
	garbage := fixture.WriteFile(t, dir, "garbage.keytab", []byte{0x05, 0x02, 0xff})

	for name, tc := range map[string]struct {
		path string
		code tkerrors.Code
	}{
		"missing":       {filepath.Join(dir, "nope.keytab"), tkerrors.ErrUnreadable},
		"garbage":       {garbage, tkerrors.ErrMalformed},
		"wrong service": {wrong, tkerrors.ErrMalformed},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewStore().Load(contextConfig(config.RoleAcceptor, config.ContextConfig{
				Service:    testService,
				Realm:      fixture.Realm,
				KeytabPath: tc.path,
			}))
			requireCode(t, err, tc.code)
		})
	}

	_, err := NewStore().Load(contextConfig(config.RoleAcceptor, config.ContextConfig{Service: testService}))
	requireCode(t, err, tkerrors.ErrMalformed)
}

func mintTicketFile(t *testing.T, dir, client string) (string, codec.TicketCredential) {
	t.Helper()
	kt := fixture.NewKeytab(t, testService, fixture.Realm, testPassword)
	tc, err := MintTicket(kt, TicketRequest{
		Client:  client,
		Service: testService,
		Realm:   fixture.Realm,
	})
	require.NoError(t, err)

	path := filepath.Join(dir, client+".tkt")
	require.NoError(t, WriteTicketFile(path, tc))
	return path, tc
}

func TestLoad_ContextInitiatorTicketFile(t *testing.T) {
	dir := t.TempDir()
	path, tc := mintTicketFile(t, dir, "alice")

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), st.Mode().Perm())

	s := NewStore()
	h, err := s.Load(contextConfig(config.RoleInitiator, config.ContextConfig{
		Name:       "alice",
		Service:    testService,
		Realm:      fixture.Realm,
		TicketPath: path,
	}))
	require.NoError(t, err)

	require.NoError(t, s.With(h, func(c *Credential) error {
		m := c.Context
		assert.Equal(t, "alice", m.Client.PrincipalNameString())
		assert.Equal(t, fixture.Realm, m.ClientRealm)
		assert.Equal(t, testService, m.Ticket.SName.PrincipalNameString())
		assert.Equal(t, tc.Key, m.SessionKey.KeyValue)
		assert.Equal(t, int32(tc.KeyType), m.SessionKey.KeyType)
		assert.WithinDuration(t, time.Now().Add(DefaultTicketLifetime), m.EndTime, time.Minute)
		assert.Nil(t, m.Keytab)
		return nil
	}))

	info, err := s.Describe(h)
	require.NoError(t, err)
	assert.Equal(t, "alice@"+fixture.Realm, info.Subject)
	assert.False(t, info.Fingerprint.IsZero())
}

func TestLoad_ContextInitiatorDERTicket(t *testing.T) {
	dir := t.TempDir()
	_, tc := mintTicketFile(t, dir, "bob")

	der, err := codec.Encode(tc)
	require.NoError(t, err)
	path := fixture.WriteFile(t, dir, "bob.der", der)

	_, err = NewStore().Load(contextConfig(config.RoleInitiator, config.ContextConfig{
		Service:    testService,
		TicketPath: path,
	}))
	require.NoError(t, err, "realm is taken from the ticket when not configured")
}

func TestLoad_ContextInitiatorErrors(t *testing.T) {
	dir := t.TempDir()
	path, _ := mintTicketFile(t, dir, "alice")
	wrongPEM := fixture.WriteFile(t, dir, "wrong.pem", fixture.CertPEM(fixture.NewCA(t, "x").Cert))
	garbage := fixture.WriteFile(t, dir, "garbage.tkt", []byte("garbage"))

	tests := []struct {
		name string
		cfg  config.ContextConfig
		code tkerrors.Code
	}{
		{"missing file", config.ContextConfig{Service: testService, TicketPath: filepath.Join(dir, "nope")}, tkerrors.ErrUnreadable},
		{"garbage", config.ContextConfig{Service: testService, TicketPath: garbage}, tkerrors.ErrMalformed},
		{"wrong pem type", config.ContextConfig{Service: testService, TicketPath: wrongPEM}, tkerrors.ErrMalformed},
		{"other client", config.ContextConfig{Name: "mallory", Service: testService, TicketPath: path}, tkerrors.ErrMalformed},
		{"other service", config.ContextConfig{Service: "host/other.example.com", TicketPath: path}, tkerrors.ErrMalformed},
		{"no ticket source", config.ContextConfig{Service: testService}, tkerrors.ErrMalformed},
		{"missing ccache", config.ContextConfig{Service: testService, CCachePath: filepath.Join(dir, "krb5cc")}, tkerrors.ErrUnreadable},
		{"garbage ccache", config.ContextConfig{Service: testService, CCachePath: garbage}, tkerrors.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore().Load(contextConfig(config.RoleInitiator, tt.cfg))
			requireCode(t, err, tt.code)
		})
	}
}

func TestMintTicket_Validation(t *testing.T) {
	_, err := MintTicket(nil, TicketRequest{Client: "a", Service: testService, Realm: fixture.Realm})
	requireCode(t, err, tkerrors.ErrMalformed)

	kt := fixture.NewKeytab(t, testService, fixture.Realm, testPassword)
	_, err = MintTicket(kt, TicketRequest{Client: "a", Service: "host/unknown", Realm: fixture.Realm})
	requireCode(t, err, tkerrors.ErrMalformed)
}

func TestServicePrincipalName(t *testing.T) {
	pn := ServicePrincipalName("node/db1.example.com@EXAMPLE.COM")
	assert.Equal(t, []string{"node", "db1.example.com"}, pn.NameString)

	cn := ClientPrincipalName("alice@EXAMPLE.COM")
	assert.Equal(t, []string{"alice"}, cn.NameString)
}
