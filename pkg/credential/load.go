package credential

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/internal/telemetry"
	"github.com/marmos91/trustkit/pkg/config"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Load builds a credential from cfg and stores it.
//
// Errors are CredentialErrors: Malformed for an invalid configuration or
// undecodable material, Unreadable for files that are missing or cannot
// be read.
func (s *Store) Load(cfg *config.CredentialConfig) (Handle, error) {
	ctx, span := telemetry.StartCredentialSpan(context.Background(), telemetry.SpanCredentialLoad)
	defer span.End()

	cred, err := build(cfg)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Warn("Credential load failed", logger.Err(err))
		return Handle{}, err
	}
	telemetry.SetAttributes(ctx, telemetry.CredKind(string(cred.Kind())), telemetry.Role(cred.Role))

	h, err := s.Add(cred)
	if err != nil {
		return Handle{}, err
	}

	info := describe(cred)
	logger.Info("Credential loaded",
		logger.Handle(h.String()),
		logger.KeyCredKind, string(info.Kind),
		logger.Role(info.Role),
		logger.Subject(info.Subject),
		logger.KeyNotAfter, info.NotAfter)
	return h, nil
}

func build(in *config.CredentialConfig) (*Credential, error) {
	const op = "load"

	if in == nil {
		return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "credential configuration is missing", nil)
	}

	// Work on a copy so defaults never leak into the caller's config.
	cfg := *in
	if cfg.PKI != nil {
		pki := *cfg.PKI
		cfg.PKI = &pki
	}
	if cfg.Context != nil {
		c := *cfg.Context
		cfg.Context = &c
	}
	config.ApplyCredentialDefaults(&cfg)

	if err := config.ValidateCredential(&cfg); err != nil {
		return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "invalid credential configuration", err)
	}

	switch cfg.Mechanism {
	case config.MechanismPKI:
		m, err := loadPKI(cfg.PKI)
		if err != nil {
			return nil, err
		}
		return &Credential{Role: cfg.Role, PKI: m}, nil

	case config.MechanismNegotiatedContext:
		m, err := loadContext(cfg.Role, cfg.Context)
		if err != nil {
			return nil, err
		}
		return &Credential{Role: cfg.Role, Context: m}, nil
	}

	return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "unknown mechanism", nil)
}

// readFile reads path, mapping failures onto Unreadable. what names the
// material for the error message without revealing the path.
func readFile(what, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		msg := "cannot read " + what
		if errors.Is(err, fs.ErrNotExist) {
			msg = what + " not found"
		}
		return nil, tkerrors.NewCredentialError(tkerrors.ErrUnreadable, "load", msg, err)
	}
	return data, nil
}

func malformed(what string, cause error) error {
	return tkerrors.NewCredentialError(tkerrors.ErrMalformed, "load", what, cause)
}
