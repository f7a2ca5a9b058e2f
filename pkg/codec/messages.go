package codec

import (
	"time"
	"unicode/utf8"
)

// Field sizes enforced by shape validation.
const (
	NonceSize    = 32
	KeyShareSize = 32
)

// Alert codes.
const (
	AlertHandshakeFailure = 40
	AlertBadCertificate   = 42
	AlertCertExpired      = 45
	AlertCertRevoked      = 44
	AlertUnknownCA        = 48
	AlertDecodeError      = 50
	AlertDecryptError     = 51
	AlertProtocolVersion  = 70
	AlertNoCommonDigest   = 71
	AlertUnexpected       = 10
)

// Hello is the first message of the certificate handshake.
type Hello struct {
	Versions VersionRange
	Nonce    []byte
	KeyShare []byte
	Digests  []int    // offered digest algorithms, in preference order
	Chain    [][]byte // DER certificates, leaf first
}

func (Hello) Tag() int { return TagHello }

func (h Hello) Validate() error {
	const op = "codec.hello"
	switch {
	case !h.Versions.Valid():
		return invalid(op, "bad version range %d-%d", h.Versions.Min, h.Versions.Max)
	case len(h.Nonce) != NonceSize:
		return invalid(op, "nonce must be %d bytes", NonceSize)
	case len(h.KeyShare) != KeyShareSize:
		return invalid(op, "key share must be %d bytes", KeyShareSize)
	case len(h.Digests) == 0:
		return invalid(op, "no digest algorithms offered")
	}
	return validateChain(op, h.Chain)
}

// Reply is the acceptor's answer to Hello.
type Reply struct {
	Version   int // chosen from the Hello version range
	Nonce     []byte
	KeyShare  []byte
	Digest    int
	Chain     [][]byte
	Signature []byte // over the transcript digest of Hello || unsigned Reply
}

func (Reply) Tag() int { return TagReply }

func (r Reply) Validate() error {
	const op = "codec.reply"
	switch {
	case r.Version < 1:
		return invalid(op, "bad version %d", r.Version)
	case len(r.Nonce) != NonceSize:
		return invalid(op, "nonce must be %d bytes", NonceSize)
	case len(r.KeyShare) != KeyShareSize:
		return invalid(op, "key share must be %d bytes", KeyShareSize)
	case r.Digest <= 0:
		return invalid(op, "missing digest algorithm")
	case len(r.Signature) == 0:
		return invalid(op, "missing signature")
	}
	return validateChain(op, r.Chain)
}

// SigningBytes returns the encoding of r with an empty signature. It is the
// form of the Reply that enters the transcript before signing.
func (r Reply) SigningBytes() ([]byte, error) {
	r.Signature = []byte{}
	return marshal(r)
}

// Finish completes the certificate handshake from the initiator side.
type Finish struct {
	Signature []byte
	Confirm   []byte
}

func (Finish) Tag() int { return TagFinish }

func (f Finish) Validate() error {
	switch {
	case len(f.Signature) == 0:
		return invalid("codec.finish", "missing signature")
	case len(f.Confirm) == 0:
		return invalid("codec.finish", "missing confirmation")
	}
	return nil
}

// Alert reports a handshake failure to the peer.
type Alert struct {
	Code        int
	Description string `asn1:"utf8"`
}

func (Alert) Tag() int { return TagAlert }

func (a Alert) Validate() error {
	switch {
	case a.Code <= 0:
		return invalid("codec.alert", "alert code must be positive")
	case !utf8.ValidString(a.Description):
		return invalid("codec.alert", "description is not valid UTF-8")
	}
	return nil
}

// TicketCredential is the stored form of an initiator's service ticket
// together with its session key.
type TicketCredential struct {
	Realm   string `asn1:"utf8"`
	Client  string `asn1:"utf8"`
	Service string `asn1:"utf8"`
	Ticket  []byte // DER encoded Kerberos Ticket
	KeyType int
	Key     []byte
	EndTime time.Time `asn1:"generalized"` // whole seconds
}

func (TicketCredential) Tag() int { return TagTicketCredential }

func (c TicketCredential) Validate() error {
	const op = "codec.ticket_credential"
	switch {
	case c.Realm == "":
		return invalid(op, "missing realm")
	case c.Client == "":
		return invalid(op, "missing client principal")
	case c.Service == "":
		return invalid(op, "missing service principal")
	case len(c.Ticket) == 0:
		return invalid(op, "missing ticket")
	case c.KeyType <= 0:
		return invalid(op, "missing key type")
	case len(c.Key) == 0:
		return invalid(op, "missing session key")
	case !c.EndTime.Equal(c.EndTime.Truncate(time.Second)):
		return invalid(op, "end time has sub-second precision")
	}
	for _, s := range []string{c.Realm, c.Client, c.Service} {
		if !utf8.ValidString(s) {
			return invalid(op, "principal is not valid UTF-8")
		}
	}
	return nil
}

func validateChain(op string, chain [][]byte) error {
	if len(chain) == 0 {
		return invalid(op, "empty certificate chain")
	}
	for i, c := range chain {
		if len(c) == 0 {
			return invalid(op, "empty certificate at position %d", i)
		}
	}
	return nil
}
