package auth

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/trustkit/internal/bytesize"
	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/internal/telemetry"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
	"github.com/marmos91/trustkit/pkg/metrics"
)

// State is the phase of a Session.
type State int

const (
	StateIdle State = iota
	StateExchanging
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateExchanging:
		return "Exchanging"
	case StateEstablished:
		return "Established"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further step is possible.
func (s State) Terminal() bool {
	return s == StateEstablished || s == StateFailed
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMaxRounds bounds the number of steps the session may take.
// Values below 1 are ignored.
func WithMaxRounds(n int) SessionOption {
	return func(s *Session) {
		if n >= 1 {
			s.maxRounds = n
		}
	}
}

// WithMaxMessageSize rejects inbound messages larger than n. Zero keeps
// the default.
func WithMaxMessageSize(n bytesize.ByteSize) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxMessage = n
		}
	}
}

// WithSessionMetrics records steps and outcomes on m.
func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session is one single-use authentication handshake.
//
// A Session starts Idle, enters Exchanging on its first Step and ends
// Established or Failed. Both end states are terminal: stepping again is a
// MisuseError and a new handshake needs a new Session.
//
// Thread Safety: Step is single-writer. A Step issued while another is in
// progress fails with MisuseError{ConcurrentUse} and does not disturb the
// running one. Accessors are safe for concurrent use.
type Session struct {
	id         string
	store      *credential.Store
	handle     credential.Handle
	mech       Mechanism
	maxRounds  int
	maxMessage bytesize.ByteSize
	metrics    *metrics.Metrics

	busy atomic.Bool

	mu         sync.RWMutex
	state      State
	rounds     int
	peer       *PeerIdentity
	capability Capability
	err        error
	started    time.Time
}

// NewSession creates an Idle session that authenticates with the credential
// behind handle, using mech.
func NewSession(store *credential.Store, handle credential.Handle, mech Mechanism, opts ...SessionOption) *Session {
	s := &Session{
		id:         uuid.NewString(),
		store:      store,
		handle:     handle,
		mech:       mech,
		maxRounds:  config.DefaultMaxRounds,
		maxMessage: config.DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Step feeds one inbound message to the mechanism and returns the message to
// send back, if any. The first Step of an initiator is called with a nil
// inbound message.
//
// When Step fails the session is Failed, unless the error is a MisuseError
// about the call itself or ctx was already done. The returned message may be
// non-nil together with an error: an alert for the peer.
func (s *Session) Step(ctx context.Context, inbound []byte) ([]byte, error) {
	const op = "session.step"

	if !s.busy.CompareAndSwap(false, true) {
		return nil, tkerrors.NewMisuseError(tkerrors.ErrConcurrentUse, op, "session is being stepped by another caller")
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state.Terminal() {
		return nil, tkerrors.Newf(tkerrors.ErrTerminalSession, op, "session is %s", state)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.mech == nil || s.store == nil {
		return nil, s.fail(ctx, tkerrors.New(tkerrors.ErrUnsupported, op, "session has no mechanism or credential store"))
	}

	name, role := s.mech.Name(), s.mech.Role()
	round := s.Rounds() + 1

	ctx, span := telemetry.StartSessionSpan(ctx, s.id, name, role, round, telemetry.BytesIn(len(inbound)))
	defer span.End()

	lc := logger.NewLogContext(s.id, name, role).
		WithRound(round).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	if round > s.maxRounds {
		return nil, s.fail(ctx, tkerrors.Newf(tkerrors.ErrRoundLimit, op, "handshake exceeded %d rounds", s.maxRounds))
	}
	if bytesize.ByteSize(len(inbound)) > s.maxMessage {
		return nil, s.fail(ctx, tkerrors.NewCodecError(op, "inbound message exceeds "+s.maxMessage.String(), nil))
	}

	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateExchanging
		s.started = time.Now()
	}
	s.rounds = round
	s.mu.Unlock()

	logger.DebugCtx(ctx, "Handshake step", logger.KeyBytesIn, len(inbound))

	var res Result
	err := s.store.With(s.handle, func(cred *credential.Credential) error {
		var err error
		res, err = s.mech.Advance(ctx, cred, inbound)
		return err
	})
	if err != nil {
		s.metrics.RecordStep(name, "error")
		return res.Out, s.fail(ctx, err)
	}

	s.metrics.RecordStep(name, res.Status.String())
	telemetry.SetAttributes(ctx, telemetry.Status(res.Status.String()), telemetry.BytesOut(len(res.Out)))

	switch res.Status {
	case StatusContinue:
		logger.DebugCtx(ctx, "Handshake continues", logger.KeyBytesOut, len(res.Out))
		return res.Out, nil

	case StatusComplete:
		if res.Peer == nil || res.Capability == nil {
			if res.Capability != nil {
				_ = res.Capability.Close()
			}
			return nil, s.fail(ctx, tkerrors.New(tkerrors.ErrIncomplete, op, "mechanism completed without identity or capability"))
		}
		s.establish(ctx, res)
		return res.Out, nil

	default:
		return nil, s.fail(ctx, tkerrors.Newf(tkerrors.ErrUnexpectedMessage, op, "mechanism reported status %d", int(res.Status)))
	}
}

func (s *Session) establish(ctx context.Context, res Result) {
	peer := res.Peer.clone()

	s.mu.Lock()
	s.state = StateEstablished
	s.peer = &peer
	s.capability = res.Capability
	rounds, started := s.rounds, s.started
	s.mu.Unlock()

	s.closeMechanism()

	s.metrics.RecordOutcome(s.mech.Name(), "established", rounds, time.Since(started))
	telemetry.SetAttributes(ctx, telemetry.State(StateEstablished.String()), telemetry.Peer(peer.String()))
	telemetry.SetStatus(ctx, codes.Ok, "")

	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.WithPeer(peer.String()))
	}
	logger.InfoCtx(ctx, "Session established",
		logger.KeyRealm, peer.Realm,
		logger.KeyDurationMs, logger.Duration(started))
}

// fail moves the session to Failed and returns err.
func (s *Session) fail(ctx context.Context, err error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.err = err
	rounds, started := s.rounds, s.started
	s.mu.Unlock()

	s.closeMechanism()

	name := ""
	if s.mech != nil {
		name = s.mech.Name()
	}
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	s.metrics.RecordOutcome(name, tkerrors.KindOf(err).String(), rounds, elapsed)

	telemetry.RecordError(ctx, err)
	telemetry.SetAttributes(ctx, telemetry.State(StateFailed.String()))

	args := []any{
		logger.KeyError, tkerrors.Redacted(err),
		logger.KeyErrorKind, tkerrors.KindOf(err).String(),
	}
	if e, ok := tkerrors.As(err); ok {
		args = append(args, logger.KeyErrorCode, e.Code.String(), logger.KeyScope, e.Scope().String())
		if e.Scope() != tkerrors.ScopeSession {
			logger.ErrorCtx(ctx, "Session failed", args...)
			return err
		}
	}
	logger.WarnCtx(ctx, "Session failed", args...)
	return err
}

func (s *Session) closeMechanism() {
	if c, ok := s.mech.(io.Closer); ok {
		_ = c.Close()
	}
}

// ID returns the session identifier used in logs, traces and metrics.
func (s *Session) ID() string { return s.id }

// Mechanism returns the name of the session's mechanism.
func (s *Session) Mechanism() string {
	if s.mech == nil {
		return ""
	}
	return s.mech.Name()
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Rounds returns the number of steps taken.
func (s *Session) Rounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rounds
}

// Err returns the error that failed the session, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Peer returns a copy of the peer identity once the session is Established.
func (s *Session) Peer() (PeerIdentity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateEstablished || s.peer == nil {
		return PeerIdentity{}, false
	}
	return s.peer.clone(), true
}

// Capability returns the per-message capability once the session is
// Established. It stays owned by the session and is destroyed by Close.
func (s *Session) Capability() (Capability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateEstablished || s.capability == nil {
		return nil, false
	}
	return s.capability, true
}

// Close ends the session. An unfinished handshake becomes Failed; an
// established session loses its capability. Close is idempotent and must
// not race with Step.
func (s *Session) Close() error {
	if !s.busy.CompareAndSwap(false, true) {
		return tkerrors.NewMisuseError(tkerrors.ErrConcurrentUse, "session.close", "session is being stepped by another caller")
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	capability := s.capability
	s.capability = nil
	if !s.state.Terminal() {
		s.state = StateFailed
		s.err = tkerrors.New(tkerrors.ErrIncomplete, "session.close", "session closed before completion")
	}
	s.mu.Unlock()

	s.closeMechanism()
	if capability != nil {
		return capability.Close()
	}
	return nil
}
