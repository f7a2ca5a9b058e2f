package kerberos

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/trustkit/internal/fixture"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/codec"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

const (
	testService  = "node/db1.example.com"
	testClient   = "alice"
	testPassword = "correct horse battery staple"
)

// ============================================================================
// Helpers
// ============================================================================

// realm holds the files of one test realm: the service keytab and a
// ticket minted from it.
type realm struct {
	dir    string
	keytab *keytab.Keytab
	ktPath string
}

func newRealm(t *testing.T, service, password string) *realm {
	t.Helper()
	dir := t.TempDir()
	kt := fixture.NewKeytab(t, service, fixture.Realm, password)
	return &realm{dir: dir, keytab: kt, ktPath: fixture.WriteKeytab(t, dir, "service.keytab", kt)}
}

func (r *realm) ticket(t *testing.T, req credential.TicketRequest) string {
	t.Helper()
	if req.Client == "" {
		req.Client = testClient
	}
	if req.Service == "" {
		req.Service = testService
	}
	req.Realm = fixture.Realm
	tc, err := credential.MintTicket(r.keytab, req)
	require.NoError(t, err)
	path := filepath.Join(r.dir, req.Client+"-"+time.Now().Format("150405.000000000")+".tkt")
	require.NoError(t, credential.WriteTicketFile(path, tc))
	return path
}

func loadContext(t *testing.T, s *credential.Store, role string, c config.ContextConfig) credential.Handle {
	t.Helper()
	if c.Service == "" {
		c.Service = testService
	}
	if c.Realm == "" {
		c.Realm = fixture.Realm
	}
	h, err := s.Load(&config.CredentialConfig{
		Mechanism: config.MechanismNegotiatedContext,
		Role:      role,
		Context:   &c,
	})
	require.NoError(t, err)
	return h
}

// peerPair is an initiator and an acceptor mechanism with their stored
// credentials.
type peerPair struct {
	store     *credential.Store
	initiator *Mechanism
	acceptor  *Mechanism
	hi, ha    credential.Handle
}

func newPeerPair(t *testing.T, initCfg, accCfg config.ContextConfig) *peerPair {
	t.Helper()
	s := credential.NewStore()
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	i, err := New(config.RoleInitiator)
	require.NoError(t, err)
	a, err := New(config.RoleAcceptor)
	require.NoError(t, err)
	return &peerPair{
		store:     s,
		initiator: i,
		acceptor:  a,
		hi:        loadContext(t, s, config.RoleInitiator, initCfg),
		ha:        loadContext(t, s, config.RoleAcceptor, accCfg),
	}
}

func advance(t *testing.T, s *credential.Store, h credential.Handle, m *Mechanism, in []byte) (auth.Result, error) {
	t.Helper()
	var (
		res     auth.Result
		stepErr error
	)
	require.NoError(t, s.With(h, func(c *credential.Credential) error {
		res, stepErr = m.Advance(context.Background(), c, in)
		return nil
	}))
	return res, stepErr
}

func (p *peerPair) apReq(t *testing.T) []byte {
	t.Helper()
	res, err := advance(t, p.store, p.hi, p.initiator, nil)
	require.NoError(t, err)
	require.Equal(t, auth.StatusContinue, res.Status)
	return res.Out
}

func tokenID(t *testing.T, b []byte) uint16 {
	t.Helper()
	oid, id, _, err := codec.UnwrapMechToken(b)
	require.NoError(t, err)
	require.True(t, oid.Equal(MechOID))
	return id
}

func krbErrorCode(t *testing.T, b []byte) int32 {
	t.Helper()
	_, id, inner, err := codec.UnwrapMechToken(b)
	require.NoError(t, err)
	require.Equal(t, codec.TokenKRBError, id)
	var krbErr messages.KRBError
	require.NoError(t, krbErr.Unmarshal(inner))
	return krbErr.ErrorCode
}

func requireCode(t *testing.T, err error, code tkerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, tkerrors.CodeOf(err), "got %v", err)
}

// exchange checks that both capabilities protect messages for each other.
func exchange(t *testing.T, ic, ac auth.Capability) {
	t.Helper()

	mic, err := ic.MIC([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, ac.VerifyMIC([]byte("ping"), mic))

	mic, err = ac.MIC([]byte("pong"))
	require.NoError(t, err)
	require.NoError(t, ic.VerifyMIC([]byte("pong"), mic))

	sealed, err := ic.Seal([]byte("block 42"))
	require.NoError(t, err)
	plain, err := ac.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "block 42", string(plain))

	sealed, err = ac.Seal([]byte("ack"))
	require.NoError(t, err)
	plain, err = ic.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(plain))
}

// ============================================================================
// Establishment
// ============================================================================

func TestContext_Establishes(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{Name: testClient, TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath})

	req := p.apReq(t)
	assert.Equal(t, codec.TokenAPReq, tokenID(t, req))

	accRes, err := advance(t, p.store, p.ha, p.acceptor, req)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusComplete, accRes.Status)
	assert.Equal(t, codec.TokenAPRep, tokenID(t, accRes.Out))
	require.NotNil(t, accRes.Peer)
	require.NotNil(t, accRes.Capability)
	assert.Equal(t, testClient, accRes.Peer.Name)
	assert.Equal(t, fixture.Realm, accRes.Peer.Realm)
	assert.Equal(t, "alice@"+fixture.Realm, accRes.Peer.String())
	assert.Equal(t, config.MechanismNegotiatedContext, accRes.Peer.Mechanism)
	assert.Equal(t, digest.Default, accRes.Peer.Fingerprint.Algorithm())
	confirmation, _ := accRes.Peer.Attribute(auth.AttrConfirmation)
	assert.Equal(t, "false", confirmation)

	initRes, err := advance(t, p.store, p.hi, p.initiator, accRes.Out)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusComplete, initRes.Status)
	assert.Nil(t, initRes.Out)
	require.NotNil(t, initRes.Peer)
	assert.Equal(t, testService, initRes.Peer.Name)
	assert.Equal(t, fixture.Realm, initRes.Peer.Realm)
	assert.True(t, initRes.Peer.Fingerprint.Equal(accRes.Peer.Fingerprint),
		"both sides fingerprint the same ticket")

	exchange(t, initRes.Capability, accRes.Capability)
}

func TestContext_ThroughSessions(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath, RequireConfirmation: true})

	initiator := auth.NewSession(p.store, p.hi, p.initiator)
	acceptor := auth.NewSession(p.store, p.ha, p.acceptor)

	ctx := context.Background()
	req, err := initiator.Step(ctx, nil)
	require.NoError(t, err)
	rep, err := acceptor.Step(ctx, req)
	require.NoError(t, err)
	confirm, err := initiator.Step(ctx, rep)
	require.NoError(t, err)
	out, err := acceptor.Step(ctx, confirm)
	require.NoError(t, err)
	assert.Nil(t, out)

	assert.Equal(t, auth.StateEstablished, initiator.State())
	assert.Equal(t, auth.StateEstablished, acceptor.State())

	peer, ok := acceptor.Peer()
	require.True(t, ok)
	assert.Equal(t, testClient, peer.Name)

	ic, ok := initiator.Capability()
	require.True(t, ok)
	ac, ok := acceptor.Capability()
	require.True(t, ok)
	exchange(t, ic, ac)

	require.NoError(t, initiator.Close())
	require.NoError(t, acceptor.Close())
	require.NoError(t, p.store.TryEvict(p.hi))
	require.NoError(t, p.store.TryEvict(p.ha))
}

func TestContext_Confirmation(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath, RequireConfirmation: true})

	accRes, err := advance(t, p.store, p.ha, p.acceptor, p.apReq(t))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusContinue, accRes.Status)
	assert.Equal(t, codec.TokenAPRepContinue, tokenID(t, accRes.Out))
	assert.Nil(t, accRes.Capability)

	initRes, err := advance(t, p.store, p.hi, p.initiator, accRes.Out)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusComplete, initRes.Status)
	require.Len(t, initRes.Out, wrapHeaderLen+12)
	assert.Equal(t, []byte{0x04, 0x04}, initRes.Out[:2])

	final, err := advance(t, p.store, p.ha, p.acceptor, initRes.Out)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusComplete, final.Status)
	assert.Nil(t, final.Out)
	confirmation, _ := final.Peer.Attribute(auth.AttrConfirmation)
	assert.Equal(t, "true", confirmation)

	exchange(t, initRes.Capability, final.Capability)
}

func TestContext_TamperedConfirmation(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath, RequireConfirmation: true})

	accRes, err := advance(t, p.store, p.ha, p.acceptor, p.apReq(t))
	require.NoError(t, err)
	initRes, err := advance(t, p.store, p.hi, p.initiator, accRes.Out)
	require.NoError(t, err)

	mic := append([]byte(nil), initRes.Out...)
	mic[len(mic)-1] ^= 0x01

	res, err := advance(t, p.store, p.ha, p.acceptor, mic)
	requireCode(t, err, tkerrors.ErrBadSignature)
	assert.Equal(t, errorcode.KRB_AP_ERR_MODIFIED, krbErrorCode(t, res.Out))
}

func TestContext_AcceptorSubkey(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	security := config.SecurityConfig{Mode: config.SecurityRequired, Level: 2}
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{}), Security: security},
		config.ContextConfig{KeytabPath: r.ktPath, Security: security})

	accRes, err := advance(t, p.store, p.ha, p.acceptor, p.apReq(t))
	require.NoError(t, err)
	initRes, err := advance(t, p.store, p.hi, p.initiator, accRes.Out)
	require.NoError(t, err)

	level, _ := accRes.Peer.Attribute(auth.AttrSecurityLevel)
	assert.Equal(t, "2", level)

	mic, err := initRes.Capability.MIC([]byte("x"))
	require.NoError(t, err)
	assert.NotZero(t, mic[2]&0x04, "tokens are protected with the acceptor subkey")
	require.NoError(t, accRes.Capability.VerifyMIC([]byte("x"), mic))

	exchange(t, initRes.Capability, accRes.Capability)
}

func TestContext_RequiredLevelNeedsAcceptorSubkey(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{
			TicketPath: r.ticket(t, credential.TicketRequest{}),
			Security:   config.SecurityConfig{Mode: config.SecurityRequired, Level: 2},
		},
		config.ContextConfig{KeytabPath: r.ktPath})

	accRes, err := advance(t, p.store, p.ha, p.acceptor, p.apReq(t))
	require.NoError(t, err)

	_, err = advance(t, p.store, p.hi, p.initiator, accRes.Out)
	requireCode(t, err, tkerrors.ErrPolicy)
	assert.True(t, tkerrors.IsValidationError(err))
}

// ============================================================================
// Rejection
// ============================================================================

func TestContext_RejectionFailsAfterOneRoundTrip(t *testing.T) {
	issuing := newRealm(t, testService, testPassword)
	other := newRealm(t, testService, "a different password")

	store := credential.NewStore()
	defer store.Close(context.Background())
	hi := loadContext(t, store, config.RoleInitiator, config.ContextConfig{
		TicketPath: issuing.ticket(t, credential.TicketRequest{}),
	})
	ha := loadContext(t, store, config.RoleAcceptor, config.ContextConfig{KeytabPath: other.ktPath})

	mi, err := New(config.RoleInitiator)
	require.NoError(t, err)
	ma, err := New(config.RoleAcceptor)
	require.NoError(t, err)
	initiator := auth.NewSession(store, hi, mi)
	acceptor := auth.NewSession(store, ha, ma)

	ctx := context.Background()
	req, err := initiator.Step(ctx, nil)
	require.NoError(t, err)

	krbErr, err := acceptor.Step(ctx, req)
	requireCode(t, err, tkerrors.ErrRejected)
	assert.True(t, tkerrors.IsValidationError(err))
	assert.Equal(t, errorcode.KRB_AP_ERR_MODIFIED, krbErrorCode(t, krbErr))
	assert.Equal(t, auth.StateFailed, acceptor.State())

	out, err := initiator.Step(ctx, krbErr)
	requireCode(t, err, tkerrors.ErrRejected)
	assert.Nil(t, out, "a KRB-ERROR is not answered")
	assert.Equal(t, auth.StateFailed, initiator.State())
	assert.Equal(t, 2, initiator.Rounds())
	assert.Equal(t, 1, acceptor.Rounds())

	_, err = initiator.Step(ctx, krbErr)
	requireCode(t, err, tkerrors.ErrTerminalSession)
}

func TestContext_ExpiredTicket(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{
			Now:      time.Now().Add(-48 * time.Hour),
			Lifetime: time.Hour,
		})},
		config.ContextConfig{KeytabPath: r.ktPath})

	res, err := advance(t, p.store, p.ha, p.acceptor, p.apReq(t))
	requireCode(t, err, tkerrors.ErrRejected)
	assert.Equal(t, errorcode.KRB_AP_ERR_TKT_EXPIRED, krbErrorCode(t, res.Out))
}

func TestContext_ReplayedAPReq(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath})

	req := p.apReq(t)
	_, err := advance(t, p.store, p.ha, p.acceptor, req)
	require.NoError(t, err)

	second, err := New(config.RoleAcceptor)
	require.NoError(t, err)
	res, err := advance(t, p.store, p.ha, second, req)
	requireCode(t, err, tkerrors.ErrRejected)
	assert.Equal(t, errorcode.KRB_AP_ERR_REPEAT, krbErrorCode(t, res.Out))
}

func TestContext_TicketForAnotherService(t *testing.T) {
	const otherService = "node/db2.example.com"
	other := newRealm(t, otherService, testPassword)
	ours := newRealm(t, testService, testPassword)

	p := newPeerPair(t,
		config.ContextConfig{
			Service:    otherService,
			TicketPath: other.ticket(t, credential.TicketRequest{Service: otherService}),
		},
		config.ContextConfig{KeytabPath: ours.ktPath})

	res, err := advance(t, p.store, p.ha, p.acceptor, p.apReq(t))
	requireCode(t, err, tkerrors.ErrRejected)
	assert.Equal(t, errorcode.KRB_AP_ERR_NOT_US, krbErrorCode(t, res.Out))
}

func TestContext_KRBErrorRejectsInitiator(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath})
	p.apReq(t)

	var krbErr []byte
	require.NoError(t, p.store.With(p.ha, func(c *credential.Credential) error {
		krbErr = newKRBErrorToken(c.Context, errorcode.KRB_ERR_GENERIC, "go away")
		return nil
	}))

	res, err := advance(t, p.store, p.hi, p.initiator, krbErr)
	requireCode(t, err, tkerrors.ErrRejected)
	assert.Nil(t, res.Out)
}

// ============================================================================
// Capability
// ============================================================================

func establish(t *testing.T) (ic, ac auth.Capability) {
	t.Helper()
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath})

	accRes, err := advance(t, p.store, p.ha, p.acceptor, p.apReq(t))
	require.NoError(t, err)
	initRes, err := advance(t, p.store, p.hi, p.initiator, accRes.Out)
	require.NoError(t, err)
	return initRes.Capability, accRes.Capability
}

func TestCapability_Replay(t *testing.T) {
	ic, ac := establish(t)

	mic, err := ic.MIC([]byte("once"))
	require.NoError(t, err)
	require.NoError(t, ac.VerifyMIC([]byte("once"), mic))
	requireCode(t, ac.VerifyMIC([]byte("once"), mic), tkerrors.ErrMismatch)

	sealed, err := ic.Seal([]byte("once"))
	require.NoError(t, err)
	_, err = ac.Unseal(sealed)
	require.NoError(t, err)
	_, err = ac.Unseal(sealed)
	requireCode(t, err, tkerrors.ErrMismatch)
}

func TestCapability_OutOfOrderWithinWindow(t *testing.T) {
	ic, ac := establish(t)

	first, err := ic.Seal([]byte("1"))
	require.NoError(t, err)
	second, err := ic.Seal([]byte("2"))
	require.NoError(t, err)

	plain, err := ac.Unseal(second)
	require.NoError(t, err)
	assert.Equal(t, "2", string(plain))
	plain, err = ac.Unseal(first)
	require.NoError(t, err)
	assert.Equal(t, "1", string(plain))
}

func TestCapability_Tampering(t *testing.T) {
	ic, ac := establish(t)

	mic, err := ic.MIC([]byte("msg"))
	require.NoError(t, err)
	requireCode(t, ac.VerifyMIC([]byte("other"), mic), tkerrors.ErrBadSignature)

	sealed, err := ic.Seal([]byte("secret payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01
	_, err = ac.Unseal(sealed)
	requireCode(t, err, tkerrors.ErrBadSignature)

	_, err = ac.Unseal([]byte{0x05, 0x04})
	requireCode(t, err, tkerrors.ErrInvalid)
}

func TestCapability_RejectsOwnTokens(t *testing.T) {
	ic, _ := establish(t)

	mic, err := ic.MIC([]byte("msg"))
	require.NoError(t, err)
	assert.True(t, tkerrors.IsCodecError(ic.VerifyMIC([]byte("msg"), mic)))

	sealed, err := ic.Seal([]byte("msg"))
	require.NoError(t, err)
	_, err = ic.Unseal(sealed)
	requireCode(t, err, tkerrors.ErrMismatch)
}

func TestCapability_Close(t *testing.T) {
	ic, ac := establish(t)

	require.NoError(t, ic.Close())
	require.NoError(t, ic.Close())

	_, err := ic.MIC([]byte("x"))
	requireCode(t, err, tkerrors.ErrTerminalSession)
	_, err = ic.Seal([]byte("x"))
	requireCode(t, err, tkerrors.ErrTerminalSession)
	_, err = ic.Unseal([]byte("x"))
	requireCode(t, err, tkerrors.ErrTerminalSession)
	requireCode(t, ic.VerifyMIC([]byte("x"), nil), tkerrors.ErrTerminalSession)

	// The peer is unaffected.
	_, err = ac.MIC([]byte("x"))
	require.NoError(t, err)
}

func TestCapability_EmptyMessages(t *testing.T) {
	ic, ac := establish(t)

	mic, err := ic.MIC(nil)
	require.NoError(t, err)
	require.NoError(t, ac.VerifyMIC([]byte{}, mic))

	sealed, err := ac.Seal(nil)
	require.NoError(t, err)
	plain, err := ic.Unseal(sealed)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

// ============================================================================
// Protocol and misuse
// ============================================================================

func TestContext_NoInboundAfterCompletion(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath})

	req := p.apReq(t)
	accRes, err := advance(t, p.store, p.ha, p.acceptor, req)
	require.NoError(t, err)
	_, err = advance(t, p.store, p.hi, p.initiator, accRes.Out)
	require.NoError(t, err)

	_, err = advance(t, p.store, p.hi, p.initiator, accRes.Out)
	requireCode(t, err, tkerrors.ErrUnexpectedMessage)
	assert.True(t, tkerrors.IsProtocolError(err))

	_, err = advance(t, p.store, p.ha, p.acceptor, req)
	assert.True(t, tkerrors.IsProtocolError(err))
}

func TestContext_UnexpectedTokens(t *testing.T) {
	r := newRealm(t, testService, testPassword)

	t.Run("InitiatorStartsWithInbound", func(t *testing.T) {
		p := newPeerPair(t,
			config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
			config.ContextConfig{KeytabPath: r.ktPath})
		_, err := advance(t, p.store, p.hi, p.initiator, []byte{0x60, 0x00})
		requireCode(t, err, tkerrors.ErrUnexpectedMessage)
	})

	t.Run("AcceptorWithoutInbound", func(t *testing.T) {
		p := newPeerPair(t,
			config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
			config.ContextConfig{KeytabPath: r.ktPath})
		_, err := advance(t, p.store, p.ha, p.acceptor, nil)
		requireCode(t, err, tkerrors.ErrUnexpectedMessage)
	})

	t.Run("Garbage", func(t *testing.T) {
		p := newPeerPair(t,
			config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
			config.ContextConfig{KeytabPath: r.ktPath})
		res, err := advance(t, p.store, p.ha, p.acceptor, []byte("not a token"))
		assert.True(t, tkerrors.IsCodecError(err))
		assert.Equal(t, errorcode.KRB_ERR_GENERIC, krbErrorCode(t, res.Out))
	})

	t.Run("ForeignMechanism", func(t *testing.T) {
		p := newPeerPair(t,
			config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
			config.ContextConfig{KeytabPath: r.ktPath})
		spnego := []int{1, 3, 6, 1, 5, 5, 2}
		tok, err := codec.WrapMechToken(spnego, codec.TokenAPReq, []byte{0x30, 0x00})
		require.NoError(t, err)
		_, err = advance(t, p.store, p.ha, p.acceptor, tok)
		requireCode(t, err, tkerrors.ErrInvalid)
	})

	t.Run("APReqSentToInitiator", func(t *testing.T) {
		p := newPeerPair(t,
			config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
			config.ContextConfig{KeytabPath: r.ktPath})
		req := p.apReq(t)
		_, err := advance(t, p.store, p.hi, p.initiator, req)
		requireCode(t, err, tkerrors.ErrUnexpectedMessage)
	})
}

func TestContext_RejectsWrongCredential(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath})

	_, err := p.initiator.Advance(context.Background(), nil, nil)
	requireCode(t, err, tkerrors.ErrUnsupported)

	// Acceptor credential handed to the initiator.
	_, err = advance(t, p.store, p.ha, p.initiator, nil)
	requireCode(t, err, tkerrors.ErrUnsupported)
	assert.True(t, tkerrors.IsMisuseError(err))

	ca := fixture.NewCA(t, "root")
	leaf := ca.Issue(t, "node")
	_, err = p.initiator.Advance(context.Background(), &credential.Credential{
		Role: config.RoleInitiator,
		PKI:  &credential.PKIMaterial{Signer: leaf.Key, Chain: leaf.Chain},
	}, nil)
	requireCode(t, err, tkerrors.ErrUnsupported)
}

func TestNew_UnknownRole(t *testing.T) {
	_, err := New("observer")
	requireCode(t, err, tkerrors.ErrUnsupported)

	m, err := New(config.RoleAcceptor, WithDigest(digest.SHA384))
	require.NoError(t, err)
	assert.Equal(t, config.MechanismNegotiatedContext, m.Name())
	assert.Equal(t, config.RoleAcceptor, m.Role())
	assert.Equal(t, digest.SHA384, m.alg)
}

func TestMechanism_CloseWipesSubkey(t *testing.T) {
	r := newRealm(t, testService, testPassword)
	p := newPeerPair(t,
		config.ContextConfig{TicketPath: r.ticket(t, credential.TicketRequest{})},
		config.ContextConfig{KeytabPath: r.ktPath})
	p.apReq(t)

	key := p.initiator.subkey.KeyValue
	require.NotEmpty(t, key)
	require.NoError(t, p.initiator.Close())
	for _, b := range key {
		require.Zero(t, b)
	}
	assert.Nil(t, p.initiator.subkey.KeyValue)
}
