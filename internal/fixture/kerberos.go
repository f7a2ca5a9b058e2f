package fixture

import (
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

// Realm is the Kerberos realm used by fixtures.
const Realm = "EXAMPLE.COM"

// NewKeytab returns a keytab holding an AES256 key for principal, derived
// from password.
func NewKeytab(t testing.TB, principal, realm, password string) *keytab.Keytab {
	t.Helper()
	kt := keytab.New()
	if err := kt.AddEntry(principal, realm, password, time.Now(), 1, etypeID.AES256_CTS_HMAC_SHA1_96); err != nil {
		t.Fatalf("add keytab entry: %v", err)
	}
	return kt
}

// WriteKeytab marshals kt into dir and returns the path.
func WriteKeytab(t testing.TB, dir, name string, kt *keytab.Keytab) string {
	t.Helper()
	b, err := kt.Marshal()
	if err != nil {
		t.Fatalf("marshal keytab: %v", err)
	}
	return WriteFile(t, dir, name, b)
}
