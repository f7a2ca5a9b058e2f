package pki

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"

	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// verifiedPeer is the result of a successful chain validation.
type verifiedPeer struct {
	leaf     *x509.Certificate
	identity *auth.PeerIdentity
}

// verifyChain validates a peer chain (leaf first, DER) against the trust
// configuration of mat at time now. Every failure is a ValidationError,
// except certificates that do not parse, which are a CodecError.
func verifyChain(mat *credential.PKIMaterial, raw [][]byte, alg digest.Algorithm, now time.Time) (*verifiedPeer, error) {
	const op = "pki.verify_chain"

	if mat.Roots == nil || mat.RootCount == 0 {
		return nil, tkerrors.New(tkerrors.ErrUntrusted, op, "no trust anchors configured")
	}
	if len(raw) == 0 {
		return nil, tkerrors.New(tkerrors.ErrInvalid, op, "empty peer chain")
	}
	depth := mat.VerifyDepth
	if depth <= 0 {
		depth = config.DefaultVerifyDepth
	}
	if len(raw) > depth {
		return nil, tkerrors.Newf(tkerrors.ErrPolicy, op, "peer chain of %d certificates exceeds depth %d", len(raw), depth)
	}

	certs := make([]*x509.Certificate, 0, len(raw))
	for i, der := range raw {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, tkerrors.NewCodecError(op, fmt.Sprintf("peer certificate %d does not parse", i), err)
		}
		certs = append(certs, c)
	}
	leaf := certs[0]

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         mat.Roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, chainError(op, err)
	}

	// Prefer the shortest chain that satisfies the depth limit.
	var chain []*x509.Certificate
	for _, c := range chains {
		if len(c) <= depth && (chain == nil || len(c) < len(chain)) {
			chain = c
		}
	}
	if chain == nil {
		return nil, tkerrors.Newf(tkerrors.ErrPolicy, op, "no verified path within depth %d", depth)
	}

	if mat.CRLCheck {
		if err := checkRevocation(mat.CRLs, chain, now); err != nil {
			return nil, err
		}
	}

	attrs := map[string]string{
		auth.AttrSerial: leaf.SerialNumber.String(),
	}
	if len(leaf.DNSNames) > 0 {
		attrs[auth.AttrDNSNames] = strings.Join(leaf.DNSNames, ",")
	}
	if id, err := x509svid.IDFromCert(leaf); err == nil {
		attrs[auth.AttrSPIFFEID] = id.String()
	}
	if err := checkTrustDomain(mat.SPIFFETrustDomain, leaf); err != nil {
		return nil, err
	}

	fp, err := digest.Sum(alg, leaf.Raw)
	if err != nil {
		return nil, err
	}
	attrs[auth.AttrDigest] = alg.String()

	return &verifiedPeer{
		leaf: leaf,
		identity: &auth.PeerIdentity{
			Mechanism:   config.MechanismPKI,
			Name:        leaf.Subject.String(),
			Realm:       leaf.Issuer.String(),
			Attributes:  attrs,
			Fingerprint: fp,
			NotAfter:    leaf.NotAfter,
		},
	}, nil
}

// chainError maps crypto/x509 verification failures onto validation codes.
func chainError(op string, err error) error {
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		if invalid.Reason == x509.Expired {
			return tkerrors.NewValidationError(tkerrors.ErrExpired, op, "certificate outside its validity period", err)
		}
		return tkerrors.NewValidationError(tkerrors.ErrUntrusted, op, "certificate not valid for this path", err)
	}

	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		return tkerrors.NewValidationError(tkerrors.ErrUntrusted, op, "chain does not lead to a trusted anchor", err)
	}

	var insecure x509.InsecureAlgorithmError
	if errors.As(err, &insecure) || errors.Is(err, x509.ErrUnsupportedAlgorithm) {
		return tkerrors.NewValidationError(tkerrors.ErrBadSignature, op, "certificate signature cannot be verified", err)
	}

	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return tkerrors.NewValidationError(tkerrors.ErrPolicy, op, "certificate name mismatch", err)
	}

	return tkerrors.NewValidationError(tkerrors.ErrUntrusted, op, "certificate chain rejected", err)
}

// checkRevocation checks every non-anchor certificate of a verified chain
// against the configured CRLs. A certificate whose issuer publishes no CRL
// fails, as does a CRL that is not signed by the issuer or is out of date.
func checkRevocation(crls []*x509.RevocationList, chain []*x509.Certificate, now time.Time) error {
	const op = "pki.crl"

	for i := 0; i < len(chain)-1; i++ {
		cert, issuer := chain[i], chain[i+1]

		var crl *x509.RevocationList
		for _, l := range crls {
			if bytes.Equal(l.RawIssuer, cert.RawIssuer) && l.CheckSignatureFrom(issuer) == nil {
				crl = l
				break
			}
		}
		if crl == nil {
			return tkerrors.Newf(tkerrors.ErrUntrusted, op, "no revocation list for issuer %q", issuer.Subject.String())
		}
		if !crl.NextUpdate.IsZero() && now.After(crl.NextUpdate) {
			return tkerrors.Newf(tkerrors.ErrExpired, op, "revocation list for %q is out of date", issuer.Subject.String())
		}
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber != nil && entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return tkerrors.Newf(tkerrors.ErrRevoked, op, "certificate %s is revoked", cert.SerialNumber.String())
			}
		}
	}
	return nil
}

// checkTrustDomain requires the leaf to carry a SPIFFE ID in trustDomain.
// An empty trustDomain disables the check.
func checkTrustDomain(trustDomain string, leaf *x509.Certificate) error {
	const op = "pki.spiffe"

	if trustDomain == "" {
		return nil
	}
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return tkerrors.NewValidationError(tkerrors.ErrPolicy, op, "configured trust domain is invalid", err)
	}
	id, err := x509svid.IDFromCert(leaf)
	if err != nil {
		return tkerrors.NewValidationError(tkerrors.ErrPolicy, op, "peer certificate has no SPIFFE ID", err)
	}
	if !id.MemberOf(td) {
		return tkerrors.Newf(tkerrors.ErrPolicy, op, "peer %s is not a member of trust domain %s", id.String(), td.String())
	}
	return nil
}
