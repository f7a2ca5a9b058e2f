package codec

import "strconv"

// Handshake protocol versions spoken by this build.
const (
	MinProtocolVersion = 1
	ProtocolVersion    = 1
)

// VersionRange is an inclusive range of handshake protocol versions.
type VersionRange struct {
	Min int
	Max int
}

// SupportedVersions is the range a mechanism offers unless configured
// otherwise.
var SupportedVersions = VersionRange{Min: MinProtocolVersion, Max: ProtocolVersion}

// Valid reports whether r is non-empty and starts at version 1 or later.
func (r VersionRange) Valid() bool {
	return r.Min >= 1 && r.Min <= r.Max
}

// Contains reports whether v lies in r.
func (r VersionRange) Contains(v int) bool {
	return r.Valid() && v >= r.Min && v <= r.Max
}

// Highest returns the highest version present in both r and other.
func (r VersionRange) Highest(other VersionRange) (int, bool) {
	if !r.Valid() || !other.Valid() {
		return 0, false
	}
	hi := min(r.Max, other.Max)
	if hi < max(r.Min, other.Min) {
		return 0, false
	}
	return hi, true
}

func (r VersionRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(r.Min)
	}
	return strconv.Itoa(r.Min) + "-" + strconv.Itoa(r.Max)
}
