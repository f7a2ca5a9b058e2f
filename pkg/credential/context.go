package credential

import (
	"fmt"
	"strings"
	"time"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/pkg/config"
)

// ServicePrincipalName parses "service/host" into a service-instance
// principal name. A trailing "@REALM" is ignored.
func ServicePrincipalName(spn string) types.PrincipalName {
	if i := strings.LastIndexByte(spn, '@'); i >= 0 {
		spn = spn[:i]
	}
	return types.NewPrincipalName(nametype.KRB_NT_SRV_INST, spn)
}

// ClientPrincipalName parses a client principal name. A trailing "@REALM"
// is ignored.
func ClientPrincipalName(name string) types.PrincipalName {
	if i := strings.LastIndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, name)
}

func loadContext(role string, cfg *config.ContextConfig) (*ContextMaterial, error) {
	m := &ContextMaterial{
		Service:             cfg.Service,
		Realm:               cfg.Realm,
		MaxClockSkew:        cfg.MaxClockSkew,
		RequireConfirmation: cfg.RequireConfirmation,
		SecurityMode:        cfg.Security.Mode,
		SecurityLevel:       cfg.Security.Level,
	}

	if cfg.Krb5Conf != "" {
		if _, err := readFile("krb5.conf", cfg.Krb5Conf); err != nil {
			return nil, err
		}
		krbCfg, err := krb5config.Load(cfg.Krb5Conf)
		if err != nil {
			return nil, malformed("cannot parse krb5.conf", err)
		}
		m.Krb5Conf = krbCfg
		if m.Realm == "" {
			m.Realm = krbCfg.LibDefaults.DefaultRealm
		}
	}

	var err error
	if role == config.RoleAcceptor {
		err = loadAcceptor(m, cfg)
	} else {
		err = loadInitiator(m, cfg)
	}
	if err != nil {
		return nil, err
	}

	if m.Realm == "" {
		return nil, malformed("no realm configured and none could be derived", nil)
	}
	return m, nil
}

func loadAcceptor(m *ContextMaterial, cfg *config.ContextConfig) error {
	data, err := readFile("keytab", cfg.KeytabPath)
	if err != nil {
		return err
	}
	defer clear(data)

	kt := keytab.New()
	if err := unmarshalGuarded(data, kt.Unmarshal); err != nil {
		return malformed("cannot parse keytab", err)
	}

	name := cfg.Name
	if name == "" {
		name = cfg.Service
	}
	principal := ServicePrincipalName(name)

	found := false
	for _, e := range kt.Entries {
		if (m.Realm == "" || e.Principal.Realm == m.Realm) &&
			strings.Join(e.Principal.Components, "/") == principal.PrincipalNameString() {
			found = true
			if m.Realm == "" {
				m.Realm = e.Principal.Realm
			}
			break
		}
	}
	if !found {
		return malformed("keytab holds no key for the service principal", nil)
	}

	m.Keytab = kt
	m.KeytabName = principal
	m.KeytabService = principal.PrincipalNameString()
	return nil
}

func loadInitiator(m *ContextMaterial, cfg *config.ContextConfig) error {
	if cfg.CCachePath != "" {
		if err := loadFromCCache(m, cfg); err != nil {
			return err
		}
	} else {
		tc, err := ReadTicketFile(cfg.TicketPath)
		if err != nil {
			return err
		}
		if err := m.fromTicketCredential(tc); err != nil {
			return err
		}
	}

	if cfg.Name != "" && !ClientPrincipalName(cfg.Name).Equal(m.Client) {
		m.zeroSessionKey()
		return malformed("ticket was issued to a different client principal", nil)
	}
	if !m.Ticket.SName.Equal(ServicePrincipalName(cfg.Service)) {
		m.zeroSessionKey()
		return malformed("ticket was issued for a different service", nil)
	}
	if m.Realm == "" {
		m.Realm = m.Ticket.Realm
	}
	if !m.EndTime.IsZero() && time.Now().After(m.EndTime) {
		logger.Warn("Service ticket has expired; the acceptor will reject it",
			logger.Subject(m.Client.PrincipalNameString()),
			logger.KeyNotAfter, m.EndTime)
	}
	return nil
}

func loadFromCCache(m *ContextMaterial, cfg *config.ContextConfig) error {
	data, err := readFile("credential cache", cfg.CCachePath)
	if err != nil {
		return err
	}
	defer clear(data)

	cc := new(credentials.CCache)
	if err := unmarshalGuarded(data, cc.Unmarshal); err != nil {
		return malformed("cannot parse credential cache", err)
	}

	entry, ok := cc.GetEntry(ServicePrincipalName(cfg.Service))
	if !ok {
		return malformed("credential cache holds no ticket for the service", nil)
	}
	if err := m.Ticket.Unmarshal(entry.Ticket); err != nil {
		return malformed("cannot decode cached ticket", err)
	}

	m.Client = cc.GetClientPrincipalName()
	m.ClientRealm = cc.GetClientRealm()
	m.SessionKey = types.EncryptionKey{
		KeyType:  entry.Key.KeyType,
		KeyValue: append([]byte(nil), entry.Key.KeyValue...),
	}
	m.EndTime = entry.EndTime
	clear(entry.Key.KeyValue)
	return nil
}

func (m *ContextMaterial) zeroSessionKey() {
	clear(m.SessionKey.KeyValue)
	m.SessionKey = types.EncryptionKey{}
}

// unmarshalGuarded runs a gokrb5 parser, turning a panic on truncated input
// into an error.
func unmarshalGuarded(data []byte, fn func([]byte) error) (err error) {
	if len(data) < 2 {
		return fmt.Errorf("truncated input (%d bytes)", len(data))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt input: %v", r)
		}
	}()
	return fn(data)
}
