package credential

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/internal/telemetry"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
	"github.com/marmos91/trustkit/pkg/metrics"
)

// maxBorrows bounds concurrent leases per handle. An eviction acquires the
// full weight, so it waits for every outstanding lease.
const maxBorrows = 1 << 20

// Handle is an opaque reference to a stored credential.
type Handle uuid.UUID

// String returns the handle in canonical UUID form.
func (h Handle) String() string { return uuid.UUID(h).String() }

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h == Handle(uuid.Nil) }

// ParseHandle parses the canonical string form of a handle.
func ParseHandle(s string) (Handle, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Handle{}, tkerrors.NewCredentialError(tkerrors.ErrUnknownHandle, "parse handle", "not a credential handle", err)
	}
	return Handle(id), nil
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records borrows and evictions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store owns credentials and lends them out through leases.
//
// Thread Safety: All methods are safe for concurrent use. Leases on the
// same handle never block each other; Evict waits for all of them.
type Store struct {
	mu      sync.RWMutex
	entries map[Handle]*entry
	metrics *metrics.Metrics
}

type entry struct {
	handle  Handle
	sem     *semaphore.Weighted
	cred    *Credential
	evicted atomic.Bool
	pending atomic.Int32
}

// NewStore creates an empty credential store.
func NewStore(opts ...Option) *Store {
	s := &Store{entries: make(map[Handle]*entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores an already-built credential and returns its handle.
func (s *Store) Add(cred *Credential) (Handle, error) {
	if cred == nil || (cred.PKI == nil) == (cred.Context == nil) {
		return Handle{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, "add", "credential must hold exactly one of pki or context material", nil)
	}

	h := Handle(uuid.New())
	e := &entry{
		handle: h,
		sem:    semaphore.NewWeighted(maxBorrows),
		cred:   cred,
	}

	s.mu.Lock()
	s.entries[h] = e
	s.mu.Unlock()

	info := describe(cred)
	logger.Debug("Credential stored",
		logger.Handle(h.String()),
		logger.KeyCredKind, string(info.Kind),
		logger.Subject(info.Subject))
	return h, nil
}

func (s *Store) lookup(op string, h Handle) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[h]
	s.mu.RUnlock()
	if !ok {
		return nil, tkerrors.NewCredentialError(tkerrors.ErrUnknownHandle, op, "unknown credential handle", nil)
	}
	return e, nil
}

// Borrow leases the credential behind h. The lease must be released; a
// lease that becomes unreachable without Release is released by the
// garbage collector and reported as leaked.
//
// Borrow never blocks. It fails with Evicted once the handle is evicted or
// while an eviction is waiting for outstanding leases.
func (s *Store) Borrow(h Handle) (*Lease, error) {
	const op = "borrow"

	e, err := s.lookup(op, h)
	if err != nil {
		s.metrics.RecordBorrow("unknown")
		return nil, err
	}
	if e.evicted.Load() {
		s.metrics.RecordBorrow("evicted")
		return nil, tkerrors.NewCredentialError(tkerrors.ErrEvicted, op, "credential has been evicted", nil)
	}

	// TryAcquire fails while an eviction is queued, which gives evictions
	// priority over new borrows.
	if !e.sem.TryAcquire(1) {
		if e.pending.Load() > 0 || e.evicted.Load() {
			s.metrics.RecordBorrow("evicted")
			return nil, tkerrors.NewCredentialError(tkerrors.ErrEvicted, op, "credential is being evicted", nil)
		}
		s.metrics.RecordBorrow("busy")
		return nil, tkerrors.NewCredentialError(tkerrors.ErrBusy, op, "too many outstanding leases", nil)
	}
	if e.evicted.Load() {
		e.sem.Release(1)
		s.metrics.RecordBorrow("evicted")
		return nil, tkerrors.NewCredentialError(tkerrors.ErrEvicted, op, "credential has been evicted", nil)
	}

	s.metrics.RecordBorrow("ok")
	return newLease(e, s.metrics), nil
}

// With borrows h, runs fn with the credential and releases the lease on
// every exit path, panics included.
func (s *Store) With(h Handle, fn func(*Credential) error) error {
	lease, err := s.Borrow(h)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Credential())
}

// Evict waits until every lease on h is released, then zeroes the
// credential. New borrows fail as soon as Evict is called. Evicting an
// already evicted handle succeeds. If ctx ends first, Evict returns Busy
// and the credential stays usable.
func (s *Store) Evict(ctx context.Context, h Handle) error {
	const op = "evict"

	ctx, span := telemetry.StartCredentialSpan(ctx, telemetry.SpanCredentialEvict,
		telemetry.CredHandle(h.String()), telemetry.EvictMode("blocking"))
	defer span.End()

	e, err := s.lookup(op, h)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if e.evicted.Load() {
		return nil
	}

	// pending stays raised until the credential is marked evicted.
	e.pending.Add(1)
	defer e.pending.Add(-1)

	if err := e.sem.Acquire(ctx, maxBorrows); err != nil {
		s.metrics.RecordEvict("blocking", "cancelled")
		busy := tkerrors.NewCredentialError(tkerrors.ErrBusy, op, "leases still outstanding", err)
		telemetry.RecordError(ctx, busy)
		logger.WarnCtx(ctx, "Credential eviction abandoned", logger.Handle(h.String()), logger.Err(err))
		return busy
	}

	e.finish()
	s.metrics.RecordEvict("blocking", "ok")
	logger.DebugCtx(ctx, "Credential evicted", logger.Handle(h.String()))
	return nil
}

// TryEvict evicts h only if no lease is outstanding, failing with Busy
// otherwise.
func (s *Store) TryEvict(h Handle) error {
	const op = "try evict"

	e, err := s.lookup(op, h)
	if err != nil {
		return err
	}
	if e.evicted.Load() {
		return nil
	}

	e.pending.Add(1)
	defer e.pending.Add(-1)

	if !e.sem.TryAcquire(maxBorrows) {
		s.metrics.RecordEvict("try", "busy")
		return tkerrors.NewCredentialError(tkerrors.ErrBusy, op, "leases still outstanding", nil)
	}

	e.finish()
	s.metrics.RecordEvict("try", "ok")
	logger.Debug("Credential evicted", logger.Handle(h.String()))
	return nil
}

// finish zeroes the credential. The caller holds the full semaphore weight.
func (e *entry) finish() {
	if !e.evicted.Load() {
		e.cred.zero()
		e.evicted.Store(true)
	}
	e.sem.Release(maxBorrows)
}

// Describe returns a non-secret summary of h. Evicted handles are still
// described, with Evicted set. While an eviction waits for outstanding
// leases only Kind, Role and Pending are reported.
func (s *Store) Describe(h Handle) (Info, error) {
	e, err := s.lookup("describe", h)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if e.sem.TryAcquire(1) {
		if !e.evicted.Load() {
			info = describe(e.cred)
		}
		e.sem.Release(1)
	}
	info.Handle = h.String()
	info.Kind = e.cred.Kind()
	info.Role = e.cred.Role
	info.Evicted = e.evicted.Load()
	info.Pending = !info.Evicted && e.pending.Load() > 0
	return info, nil
}

// Handles returns every handle in the store, evicted ones included.
func (s *Store) Handles() []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Handle, 0, len(s.entries))
	for h := range s.entries {
		out = append(out, h)
	}
	return out
}

// Close evicts every handle, waiting for outstanding leases. The first
// failure is returned after all handles have been attempted.
func (s *Store) Close(ctx context.Context) error {
	var firstErr error
	for _, h := range s.Handles() {
		if err := s.Evict(ctx, h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Lease is read access to a borrowed credential.
type Lease struct {
	e        *entry
	metrics  *metrics.Metrics
	once     sync.Once
	released atomic.Bool
	cleanup  runtime.Cleanup
}

// leakedLease is the state the garbage collector needs to return a lease
// whose holder forgot to.
type leakedLease struct {
	e       *entry
	metrics *metrics.Metrics
}

func newLease(e *entry, m *metrics.Metrics) *Lease {
	l := &Lease{e: e, metrics: m}
	l.cleanup = runtime.AddCleanup(l, func(ll leakedLease) {
		ll.e.sem.Release(1)
		ll.metrics.RecordRelease(true)
		logger.Warn("Credential lease leaked, released by finalizer", logger.Handle(ll.e.handle.String()))
	}, leakedLease{e: e, metrics: m})
	return l
}

// Handle returns the handle the lease was borrowed from.
func (l *Lease) Handle() Handle { return l.e.handle }

// Credential returns the borrowed credential, or nil after Release.
// The credential must not be retained past Release.
func (l *Lease) Credential() *Credential {
	if l.released.Load() {
		return nil
	}
	return l.e.cred
}

// Release returns the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cleanup.Stop()
		l.released.Store(true)
		l.e.sem.Release(1)
		l.metrics.RecordRelease(false)
	})
}
