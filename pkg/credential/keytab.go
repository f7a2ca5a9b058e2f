package credential

import (
	"os"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/keytab"

	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// DefaultKeytabETypes are the encryption types NewKeytab derives keys for
// when none are given.
var DefaultKeytabETypes = []int32{
	etypeID.AES256_CTS_HMAC_SHA1_96,
	etypeID.AES128_CTS_HMAC_SHA1_96,
}

// NewKeytab derives a keytab for service in realm from password, one entry
// per encryption type.
func NewKeytab(service, realm, password string, kvno uint8, etypes ...int32) (*keytab.Keytab, error) {
	const op = "new keytab"

	if service == "" || realm == "" || password == "" {
		return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "service, realm and password are required", nil)
	}
	if len(etypes) == 0 {
		etypes = DefaultKeytabETypes
	}
	kt := keytab.New()
	now := time.Now()
	for _, et := range etypes {
		if err := kt.AddEntry(service, realm, password, now, kvno, et); err != nil {
			return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "cannot derive key", err)
		}
	}
	return kt, nil
}

// WriteKeytabFile stores kt in the MIT keytab format, readable only by its
// owner.
func WriteKeytabFile(path string, kt *keytab.Keytab) error {
	const op = "write keytab"

	b, err := kt.Marshal()
	if err != nil {
		return tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "cannot encode keytab", err)
	}
	defer clear(b)
	if err := os.WriteFile(path, b, 0600); err != nil {
		return tkerrors.NewCredentialError(tkerrors.ErrUnreadable, op, "cannot write keytab file", err)
	}
	return nil
}
