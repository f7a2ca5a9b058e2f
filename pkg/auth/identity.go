package auth

import (
	"maps"
	"time"

	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/digest"
)

// Attribute keys set by the drivers.
const (
	AttrSPIFFEID      = "spiffe_id"
	AttrSerial        = "serial"
	AttrDNSNames      = "dns_names"
	AttrDigest        = "digest"
	AttrSecurityLevel = "security_level"
	AttrClientRealm   = "client_realm"
	AttrEncType       = "enctype"
	AttrConfirmation  = "confirmation"
)

// PeerIdentity is the validated identity of the remote party.
//
// It is produced once, when a handshake completes, and never modified
// afterwards. Session.Peer hands out copies.
type PeerIdentity struct {
	// Mechanism is the mechanism that validated the identity.
	Mechanism string

	// Name is the certificate subject (pki) or the principal name
	// (negotiated-context), e.g. "CN=node-b,O=example" or "alice".
	Name string

	// Realm is the Kerberos realm or the certificate issuer.
	Realm string

	// Attributes holds mechanism-specific details.
	// Examples: "spiffe_id" -> "spiffe://example.org/node", "enctype" -> "18"
	Attributes map[string]string

	// Fingerprint is a digest of the peer certificate or ticket.
	Fingerprint digest.Digest

	// NotAfter is the end of the validity of the peer credential.
	NotAfter time.Time
}

// String returns Name qualified by Realm for principals.
func (p PeerIdentity) String() string {
	if p.Realm == "" || p.Mechanism != config.MechanismNegotiatedContext {
		return p.Name
	}
	return p.Name + "@" + p.Realm
}

// Attribute returns the value of key and whether it is set.
func (p PeerIdentity) Attribute(key string) (string, bool) {
	v, ok := p.Attributes[key]
	return v, ok
}

func (p *PeerIdentity) clone() PeerIdentity {
	c := *p
	c.Attributes = maps.Clone(p.Attributes)
	return c
}
