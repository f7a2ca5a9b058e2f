package credential

import (
	"encoding/pem"
	"os"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/trustkit/pkg/codec"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// TicketPEMType is the PEM block type of a stored ticket credential.
const TicketPEMType = "TRUSTKIT TICKET"

// DefaultTicketLifetime is used by MintTicket when no lifetime is given.
const DefaultTicketLifetime = 10 * time.Hour

// TicketRequest describes a service ticket to mint.
type TicketRequest struct {
	Client   string
	Service  string
	Realm    string
	EType    int32
	Lifetime time.Duration
	Now      time.Time
}

// MintTicket issues a service ticket directly from the service keytab,
// standing in for a KDC in offline deployments and tests. The result
// holds the ticket together with its session key.
func MintTicket(kt *keytab.Keytab, req TicketRequest) (codec.TicketCredential, error) {
	const op = "mint ticket"

	if kt == nil || req.Client == "" || req.Service == "" || req.Realm == "" {
		return codec.TicketCredential{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "keytab, client, service and realm are required", nil)
	}
	if req.EType == 0 {
		req.EType = etypeID.AES256_CTS_HMAC_SHA1_96
	}
	if req.Lifetime <= 0 {
		req.Lifetime = DefaultTicketLifetime
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	now := req.Now.UTC().Truncate(time.Second)
	end := now.Add(req.Lifetime).Truncate(time.Second)

	tktFlags := types.NewKrbFlags()
	types.SetFlag(&tktFlags, flags.Initial)
	types.SetFlag(&tktFlags, flags.PreAuthent)

	tkt, key, err := messages.NewTicket(
		ClientPrincipalName(req.Client), req.Realm,
		ServicePrincipalName(req.Service), req.Realm,
		tktFlags, kt, req.EType, 0,
		now, now, end, end)
	if err != nil {
		return codec.TicketCredential{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "cannot issue ticket from keytab", err)
	}

	b, err := tkt.Marshal()
	if err != nil {
		return codec.TicketCredential{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "cannot encode ticket", err)
	}

	return codec.TicketCredential{
		Realm:   req.Realm,
		Client:  ClientPrincipalName(req.Client).PrincipalNameString(),
		Service: ServicePrincipalName(req.Service).PrincipalNameString(),
		Ticket:  b,
		KeyType: int(key.KeyType),
		Key:     key.KeyValue,
		EndTime: end,
	}, nil
}

// WriteTicketFile stores tc as a PEM file readable only by its owner.
func WriteTicketFile(path string, tc codec.TicketCredential) error {
	der, err := codec.Encode(tc)
	if err != nil {
		return err
	}
	defer clear(der)

	data := pem.EncodeToMemory(&pem.Block{Type: TicketPEMType, Bytes: der})
	defer clear(data)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return tkerrors.NewCredentialError(tkerrors.ErrUnreadable, "write ticket", "cannot write ticket file", err)
	}
	return nil
}

// ReadTicketFile loads a ticket credential stored as PEM or raw DER.
func ReadTicketFile(path string) (codec.TicketCredential, error) {
	data, err := readFile("ticket", path)
	if err != nil {
		return codec.TicketCredential{}, err
	}
	defer clear(data)

	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != TicketPEMType {
			return codec.TicketCredential{}, malformed("unexpected PEM block in ticket file", nil)
		}
		der = block.Bytes
	}

	tc, err := codec.Decode[codec.TicketCredential](der)
	if err != nil {
		return codec.TicketCredential{}, malformed("cannot decode ticket file", err)
	}
	return tc, nil
}

func (m *ContextMaterial) fromTicketCredential(tc codec.TicketCredential) error {
	if err := m.Ticket.Unmarshal(tc.Ticket); err != nil {
		clear(tc.Key)
		return malformed("cannot decode service ticket", err)
	}

	m.Client = ClientPrincipalName(tc.Client)
	m.ClientRealm = tc.Realm
	m.SessionKey = types.EncryptionKey{
		KeyType:  int32(tc.KeyType),
		KeyValue: append([]byte(nil), tc.Key...),
	}
	m.EndTime = tc.EndTime
	clear(tc.Key)
	return nil
}
