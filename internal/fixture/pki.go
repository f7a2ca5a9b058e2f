// Package fixture builds certificates, keytabs and configuration for tests.
// Nothing here is meant for production credentials.
package fixture

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// KeyType selects the key algorithm of a generated certificate.
type KeyType int

const (
	KeyEd25519 KeyType = iota
	KeyECDSA
	KeyRSA
)

type certOptions struct {
	keyType   KeyType
	notBefore time.Time
	notAfter  time.Time
	spiffeID  string
	dnsNames  []string
}

// CertOption customizes a generated certificate.
type CertOption func(*certOptions)

// WithKeyType selects the key algorithm.
func WithKeyType(k KeyType) CertOption {
	return func(o *certOptions) { o.keyType = k }
}

// WithValidity sets the validity window.
func WithValidity(notBefore, notAfter time.Time) CertOption {
	return func(o *certOptions) {
		o.notBefore = notBefore
		o.notAfter = notAfter
	}
}

// Expired makes a certificate that expired an hour ago.
func Expired() CertOption {
	now := time.Now()
	return WithValidity(now.Add(-48*time.Hour), now.Add(-time.Hour))
}

// WithSPIFFEID adds a URI SAN such as "spiffe://example.org/node/a".
func WithSPIFFEID(id string) CertOption {
	return func(o *certOptions) { o.spiffeID = id }
}

// WithDNSNames adds DNS SANs.
func WithDNSNames(names ...string) CertOption {
	return func(o *certOptions) { o.dnsNames = names }
}

func buildOptions(opts []CertOption) certOptions {
	now := time.Now()
	o := certOptions{
		notBefore: now.Add(-time.Hour),
		notAfter:  now.Add(24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newKey(t testing.TB, k KeyType) crypto.Signer {
	t.Helper()

	var (
		key crypto.Signer
		err error
	)
	switch k {
	case KeyECDSA:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyRSA:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	}
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	return n
}

// CA is a certificate authority. Root CAs have a nil parent.
type CA struct {
	Cert   *x509.Certificate
	Key    crypto.Signer
	parent *CA
}

// NewCA creates a self-signed root CA.
func NewCA(t testing.TB, cn string, opts ...CertOption) *CA {
	t.Helper()
	o := buildOptions(opts)
	key := newKey(t, o.keyType)

	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"trustkit test"}},
		NotBefore:             o.notBefore,
		NotAfter:              o.notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return &CA{Cert: sign(t, tmpl, tmpl, key.Public(), key), Key: key}
}

// NewIntermediate creates a CA signed by ca.
func (ca *CA) NewIntermediate(t testing.TB, cn string, opts ...CertOption) *CA {
	t.Helper()
	o := buildOptions(opts)
	key := newKey(t, o.keyType)

	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"trustkit test"}},
		NotBefore:             o.notBefore,
		NotAfter:              o.notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return &CA{Cert: sign(t, tmpl, ca.Cert, key.Public(), ca.Key), Key: key, parent: ca}
}

// Root returns the self-signed CA at the top of ca's hierarchy.
func (ca *CA) Root() *CA {
	for ca.parent != nil {
		ca = ca.parent
	}
	return ca
}

// Leaf is an end-entity certificate with its key.
type Leaf struct {
	Cert *x509.Certificate
	Key  crypto.Signer

	// Chain is the leaf followed by every intermediate up to, but not
	// including, the root.
	Chain []*x509.Certificate
}

// Issue creates an end-entity certificate for cn signed by ca.
func (ca *CA) Issue(t testing.TB, cn string, opts ...CertOption) *Leaf {
	t.Helper()
	o := buildOptions(opts)
	key := newKey(t, o.keyType)

	tmpl := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"trustkit test"}},
		NotBefore:    o.notBefore,
		NotAfter:     o.notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:     o.dnsNames,
	}
	if o.spiffeID != "" {
		u, err := url.Parse(o.spiffeID)
		if err != nil {
			t.Fatalf("parse spiffe id: %v", err)
		}
		tmpl.URIs = []*url.URL{u}
	}

	leaf := &Leaf{Cert: sign(t, tmpl, ca.Cert, key.Public(), ca.Key), Key: key}
	leaf.Chain = append(leaf.Chain, leaf.Cert)
	for c := ca; c.parent != nil; c = c.parent {
		leaf.Chain = append(leaf.Chain, c.Cert)
	}
	return leaf
}

func sign(t testing.TB, tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

// CRL returns a DER revocation list signed by ca revoking certs.
func (ca *CA) CRL(t testing.TB, certs ...*x509.Certificate) []byte {
	t.Helper()

	now := time.Now()
	tmpl := &x509.RevocationList{
		Number:     serial(t),
		ThisUpdate: now.Add(-time.Minute),
		NextUpdate: now.Add(time.Hour),
	}
	for _, c := range certs {
		tmpl.RevokedCertificateEntries = append(tmpl.RevokedCertificateEntries, x509.RevocationListEntry{
			SerialNumber:   c.SerialNumber,
			RevocationTime: now.Add(-time.Minute),
		})
	}

	der, err := x509.CreateRevocationList(rand.Reader, tmpl, ca.Cert, ca.Key)
	if err != nil {
		t.Fatalf("create crl: %v", err)
	}
	return der
}

// CertPEM encodes certificates as consecutive PEM blocks.
func CertPEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// KeyPEM encodes a private key as PKCS#8 PEM.
func KeyPEM(t testing.TB, key crypto.Signer) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// WriteFile writes data under dir and returns its path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// PKIFiles are the paths of a leaf credential and its anchor on disk.
type PKIFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// WritePKI writes leaf's chain, its key and the root of ca to dir.
func WritePKI(t testing.TB, dir, prefix string, leaf *Leaf, ca *CA) PKIFiles {
	t.Helper()
	return PKIFiles{
		CertFile: WriteFile(t, dir, prefix+".pem", CertPEM(leaf.Chain...)),
		KeyFile:  WriteFile(t, dir, prefix+".key", KeyPEM(t, leaf.Key)),
		CAFile:   WriteFile(t, dir, prefix+"-ca.pem", CertPEM(ca.Root().Cert)),
	}
}
