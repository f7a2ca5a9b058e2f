// Package mechanism builds handshake drivers and sessions from
// configuration.
package mechanism

import (
	"context"
	"fmt"

	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/auth/kerberos"
	"github.com/marmos91/trustkit/pkg/auth/pki"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
	"github.com/marmos91/trustkit/pkg/metrics"
)

// Names lists the supported mechanisms.
var Names = []string{config.MechanismPKI, config.MechanismNegotiatedContext}

// New creates a driver for mechanism and role. digests is the preference
// list; the negotiated-context driver uses its first entry for transcripts
// and fingerprints. An empty list selects the default.
func New(mechanism, role string, digests []digest.Algorithm) (auth.Mechanism, error) {
	switch mechanism {
	case config.MechanismPKI:
		m, err := pki.New(role, pki.WithDigests(digests...))
		if err != nil {
			return nil, err
		}
		return m, nil

	case config.MechanismNegotiatedContext:
		var opts []kerberos.Option
		if len(digests) > 0 {
			opts = append(opts, kerberos.WithDigest(digests[0]))
		}
		m, err := kerberos.New(role, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil

	default:
		return nil, tkerrors.Newf(tkerrors.ErrUnsupported, "mechanism.new", "unknown mechanism %q", mechanism)
	}
}

// FromConfig creates the driver selected by cfg.
func FromConfig(cfg *config.Config) (auth.Mechanism, error) {
	digests, err := cfg.Digest.Algorithms()
	if err != nil {
		return nil, fmt.Errorf("digest preference: %w", err)
	}
	return New(cfg.Mechanism, cfg.Role, digests)
}

// NewSession creates a fresh driver from cfg and wraps it in a session
// bound to the credential h. m may be nil.
func NewSession(cfg *config.Config, store *credential.Store, h credential.Handle, m *metrics.Metrics) (*auth.Session, error) {
	mech, err := FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return auth.NewSession(store, h, mech,
		auth.WithMaxRounds(cfg.Session.MaxRounds),
		auth.WithMaxMessageSize(cfg.Session.MaxMessageSize),
		auth.WithSessionMetrics(m)), nil
}

// Loopback drives initiator and acceptor against each other in memory
// until both are terminal. The first handshake error is returned; an alert
// produced with it is still delivered to the other side.
func Loopback(ctx context.Context, initiator, acceptor *auth.Session) error {
	const op = "mechanism.loopback"

	from, to := initiator, acceptor
	msg, err := from.Step(ctx, nil)
	for err == nil {
		if msg == nil {
			if from.State().Terminal() && to.State().Terminal() {
				return nil
			}
			return tkerrors.Newf(tkerrors.ErrUnexpectedMessage, op,
				"%s session is %s with nothing to send", from.Mechanism(), from.State())
		}
		from, to = to, from
		msg, err = from.Step(ctx, msg)
	}
	if msg != nil && !to.State().Terminal() {
		_, _ = to.Step(ctx, msg)
	}
	return err
}
