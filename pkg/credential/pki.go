package credential

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/pkg/config"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// anchorExtensions are the file extensions picked up from trust root
// directories.
var anchorExtensions = map[string]bool{".pem": true, ".crt": true, ".cer": true}

func loadPKI(cfg *config.PKIConfig) (*PKIMaterial, error) {
	var (
		signer crypto.Signer
		chain  []*x509.Certificate
		err    error
	)

	if cfg.PKCS12File != "" {
		signer, chain, err = loadPKCS12(cfg.PKCS12File, cfg.PKCS12Password)
	} else {
		signer, chain, err = loadKeyPair(cfg.CertFile, cfg.KeyFile)
	}
	if err != nil {
		return nil, err
	}

	roots, count, err := loadAnchors(cfg.TrustRoot)
	if err != nil {
		return nil, err
	}

	crls, err := loadCRLs(cfg.TrustRoot.CRLs)
	if err != nil {
		return nil, err
	}

	leaf := chain[0]
	if now := time.Now(); now.After(leaf.NotAfter) || now.Before(leaf.NotBefore) {
		logger.Warn("Local certificate is outside its validity period; peers will reject it",
			logger.Subject(leaf.Subject.String()),
			logger.KeyNotAfter, leaf.NotAfter)
	}

	return &PKIMaterial{
		Signer:            signer,
		Chain:             chain,
		Roots:             roots,
		RootCount:         count,
		CRLs:              crls,
		VerifyDepth:       cfg.TrustRoot.VerifyDepth,
		CRLCheck:          cfg.TrustRoot.CRLCheck,
		SPIFFETrustDomain: cfg.SPIFFETrustDomain,
	}, nil
}

func loadKeyPair(certFile, keyFile string) (crypto.Signer, []*x509.Certificate, error) {
	certPEM, err := readFile("certificate", certFile)
	if err != nil {
		return nil, nil, err
	}
	chain, err := parseCertificates(certPEM)
	if err != nil {
		return nil, nil, malformed("cannot decode certificate chain", err)
	}

	keyPEM, err := readFile("private key", keyFile)
	if err != nil {
		return nil, nil, err
	}
	defer clear(keyPEM)

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, malformed("private key is not PEM encoded", nil)
	}
	signer, err := parsePrivateKey(block)
	if err != nil {
		return nil, nil, malformed("cannot decode private key", err)
	}

	if err := matchKey(chain[0], signer); err != nil {
		return nil, nil, err
	}
	return signer, chain, nil
}

func loadPKCS12(path, password string) (crypto.Signer, []*x509.Certificate, error) {
	data, err := readFile("pkcs12 bundle", path)
	if err != nil {
		return nil, nil, err
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, nil, malformed("cannot decode pkcs12 bundle", err)
	}

	var (
		signer crypto.Signer
		chain  []*x509.Certificate
	)
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, nil, malformed("cannot decode pkcs12 certificate", err)
			}
			chain = append(chain, cert)
		default:
			if signer != nil {
				return nil, nil, malformed("pkcs12 bundle holds more than one key", nil)
			}
			if signer, err = parsePrivateKey(b); err != nil {
				return nil, nil, malformed("cannot decode pkcs12 private key", err)
			}
		}
		clear(b.Bytes)
	}
	if signer == nil || len(chain) == 0 {
		return nil, nil, malformed("pkcs12 bundle must hold a key and a certificate", nil)
	}

	// The leaf is the certificate matching the key; keep the rest as
	// intermediates in bundle order.
	for i, cert := range chain {
		if matchKey(cert, signer) == nil {
			chain[0], chain[i] = chain[i], chain[0]
			return signer, chain, nil
		}
	}
	return nil, nil, malformed("pkcs12 bundle has no certificate for its key", nil)
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported key block %q", block.Type)
	}
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key type %T cannot sign", key)
	}
	return signer, nil
}

type equalKey interface {
	Equal(crypto.PublicKey) bool
}

func matchKey(cert *x509.Certificate, signer crypto.Signer) error {
	pub, ok := signer.Public().(equalKey)
	if !ok || !pub.Equal(cert.PublicKey) {
		return malformed("private key does not match certificate", nil)
	}
	return nil
}

// parseCertificates accepts PEM (any number of CERTIFICATE blocks) or a
// single DER certificate.
func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, fmt.Errorf("no certificate found: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func loadAnchors(cfg config.TrustRootConfig) (*x509.CertPool, int, error) {
	pool := x509.NewCertPool()
	count := 0

	add := func(path string) error {
		data, err := readFile("trust anchor", path)
		if err != nil {
			return err
		}
		certs, err := parseCertificates(data)
		if err != nil {
			return malformed("cannot decode trust anchor", err)
		}
		for _, c := range certs {
			pool.AddCert(c)
			count++
		}
		return nil
	}

	for _, path := range cfg.RootCerts {
		if err := add(path); err != nil {
			return nil, 0, err
		}
	}

	for _, dir := range cfg.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, 0, tkerrors.NewCredentialError(tkerrors.ErrUnreadable, "load", "cannot read trust anchor directory", err)
		}
		for _, de := range entries {
			if de.IsDir() || !anchorExtensions[strings.ToLower(filepath.Ext(de.Name()))] {
				continue
			}
			if err := add(filepath.Join(dir, de.Name())); err != nil {
				return nil, 0, err
			}
		}
	}

	if count == 0 {
		return nil, 0, malformed("no trust anchors configured", nil)
	}
	return pool, count, nil
}

func loadCRLs(paths []string) ([]*x509.RevocationList, error) {
	var crls []*x509.RevocationList

	for _, path := range paths {
		data, err := readFile("revocation list", path)
		if err != nil {
			return nil, err
		}

		var ders [][]byte
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type == "X509 CRL" {
				ders = append(ders, block.Bytes)
			}
		}
		if len(ders) == 0 {
			ders = [][]byte{data}
		}

		for _, der := range ders {
			crl, err := x509.ParseRevocationList(der)
			if err != nil {
				return nil, malformed("cannot decode revocation list", err)
			}
			crls = append(crls, crl)
		}
	}
	return crls, nil
}
