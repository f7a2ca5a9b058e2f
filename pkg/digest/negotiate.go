package digest

import (
	"strings"

	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Negotiate picks the first algorithm in the local preference list that
// the peer also offered. An empty local list means [Default].
func Negotiate(local, offered []Algorithm) (Algorithm, error) {
	if len(local) == 0 {
		local = []Algorithm{Default}
	}
	for _, want := range local {
		for _, have := range offered {
			if want == have && want.Valid() {
				return want, nil
			}
		}
	}
	return 0, tkerrors.Newf(tkerrors.ErrNoCommonAlgorithm, "digest.negotiate",
		"no common digest algorithm (local: %s)", joinNames(local))
}

// Contains reports whether alg appears in list.
func Contains(list []Algorithm, alg Algorithm) bool {
	for _, a := range list {
		if a == alg {
			return true
		}
	}
	return false
}

func joinNames(list []Algorithm) string {
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.String()
	}
	return strings.Join(names, ",")
}
