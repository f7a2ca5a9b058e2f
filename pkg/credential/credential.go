// Package credential holds authentication material for the lifetime of a
// process and lends it to handshakes.
//
// Credentials are owned by a Store. Handshakes never keep a reference to
// key material: they Borrow a Lease for the duration of one step and
// Release it. Evicting a handle waits for outstanding leases (Evict) or
// fails fast (TryEvict), then zeroes the secrets.
package credential

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"math/big"
	"time"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/digest"
)

// Kind identifies which mechanism a credential serves.
type Kind string

const (
	KindPKI     Kind = config.MechanismPKI
	KindContext Kind = config.MechanismNegotiatedContext
)

// Credential is the material one handshake role needs. Exactly one of PKI
// or Context is set.
type Credential struct {
	Role    string
	PKI     *PKIMaterial
	Context *ContextMaterial
}

// Kind reports which mechanism the credential serves.
func (c *Credential) Kind() Kind {
	if c.Context != nil {
		return KindContext
	}
	return KindPKI
}

// PKIMaterial is a certificate credential together with the trust
// configuration used to validate peers.
type PKIMaterial struct {
	// Signer is the private key matching Chain[0].
	Signer crypto.Signer

	// Chain is the local leaf followed by its intermediates, sent to peers.
	Chain []*x509.Certificate

	// Roots are the trust anchors peers must chain to.
	Roots *x509.CertPool

	// RootCount is the number of anchors in Roots.
	RootCount int

	// CRLs are revocation lists checked when CRLCheck is set.
	CRLs []*x509.RevocationList

	VerifyDepth int
	CRLCheck    bool

	// SPIFFETrustDomain, when set, is the trust domain peer SPIFFE IDs must
	// belong to.
	SPIFFETrustDomain string
}

// Leaf returns the local end-entity certificate.
func (p *PKIMaterial) Leaf() *x509.Certificate {
	if p == nil || len(p.Chain) == 0 {
		return nil
	}
	return p.Chain[0]
}

// ContextMaterial is a Kerberos credential. Acceptors carry a keytab,
// initiators a service ticket and its session key.
type ContextMaterial struct {
	// Service is the service principal, e.g. "node/db1.example.com".
	Service string

	// Realm is the realm of the service principal.
	Realm string

	MaxClockSkew        time.Duration
	RequireConfirmation bool
	SecurityMode        string
	SecurityLevel       int

	// Krb5Conf is the parsed krb5.conf, nil when none was configured.
	Krb5Conf *krb5config.Config

	// Acceptor side
	Keytab        *keytab.Keytab
	KeytabName    types.PrincipalName
	KeytabService string

	// Initiator side
	Client      types.PrincipalName
	ClientRealm string
	Ticket      messages.Ticket
	SessionKey  types.EncryptionKey
	EndTime     time.Time
}

// ServicePrincipal returns Service as a service-instance principal name.
func (c *ContextMaterial) ServicePrincipal() types.PrincipalName {
	return ServicePrincipalName(c.Service)
}

// Info is a non-secret summary of a credential.
type Info struct {
	Handle      string        `json:"handle" yaml:"handle"`
	Kind        Kind          `json:"kind" yaml:"kind"`
	Role        string        `json:"role" yaml:"role"`
	Subject     string        `json:"subject" yaml:"subject"`
	Issuer      string        `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	NotAfter    time.Time     `json:"not_after,omitempty" yaml:"not_after,omitempty"`
	Fingerprint digest.Digest `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Anchors     int           `json:"anchors,omitempty" yaml:"anchors,omitempty"`
	Evicted     bool          `json:"evicted" yaml:"evicted"`
	Pending     bool          `json:"eviction_pending,omitempty" yaml:"eviction_pending,omitempty"` // an Evict call is waiting for leases
}

func describe(c *Credential) Info {
	info := Info{Kind: c.Kind(), Role: c.Role}

	switch {
	case c.PKI != nil:
		leaf := c.PKI.Leaf()
		if leaf == nil {
			break
		}
		info.Subject = leaf.Subject.String()
		info.Issuer = leaf.Issuer.String()
		info.NotAfter = leaf.NotAfter
		info.Anchors = c.PKI.RootCount
		info.Fingerprint, _ = digest.Sum(digest.Default, leaf.Raw)

	case c.Context != nil:
		ctx := c.Context
		info.Issuer = ctx.Realm
		if ctx.Keytab != nil {
			info.Subject = ctx.KeytabService + "@" + ctx.Realm
			break
		}
		info.Subject = ctx.Client.PrincipalNameString() + "@" + ctx.ClientRealm
		info.NotAfter = ctx.EndTime
		if b, err := ctx.Ticket.Marshal(); err == nil {
			info.Fingerprint, _ = digest.Sum(digest.Default, b)
		}
	}
	return info
}

// zero overwrites secret material. Best effort: copies made by the
// runtime or by libraries are out of reach.
func (c *Credential) zero() {
	if c.PKI != nil {
		zeroSigner(c.PKI.Signer)
		c.PKI.Signer = nil
	}
	if ctx := c.Context; ctx != nil {
		if ctx.Keytab != nil {
			for i := range ctx.Keytab.Entries {
				clear(ctx.Keytab.Entries[i].Key.KeyValue)
			}
			ctx.Keytab = nil
		}
		clear(ctx.SessionKey.KeyValue)
		ctx.SessionKey = types.EncryptionKey{}
	}
}

func zeroSigner(s crypto.Signer) {
	switch k := s.(type) {
	case ed25519.PrivateKey:
		clear(k)
	case *ed25519.PrivateKey:
		clear(*k)
	case *ecdsa.PrivateKey:
		zeroInt(k.D)
	case *rsa.PrivateKey:
		zeroInt(k.D)
		for _, p := range k.Primes {
			zeroInt(p)
		}
		zeroInt(k.Precomputed.Dp)
		zeroInt(k.Precomputed.Dq)
		zeroInt(k.Precomputed.Qinv)
	}
}

func zeroInt(n *big.Int) {
	if n == nil {
		return
	}
	clear(n.Bits())
	n.SetInt64(0)
}
