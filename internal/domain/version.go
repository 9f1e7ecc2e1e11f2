package domain

import (
	"regexp"
	"strings"
	"time"
)

// versionPattern is the only accepted shape for user-supplied version
// identifiers: an optional "v" prefix followed by major.minor.
var versionPattern = regexp.MustCompile(`^v?\d+\.\d+$`)

// VersionRecord describes one known release of the product.
type VersionRecord struct {
	Version     string    `json:"version"`
	Digest      string    `json:"digest,omitempty"`
	Algorithm   Algorithm `json:"algorithm,omitempty"`
	ReleaseDate string    `json:"release_date,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// ValidVersionID reports whether id is an acceptable version identifier.
func ValidVersionID(id string) bool {
	return versionPattern.MatchString(id)
}

// CanonicalVersion strips an optional "v" prefix. Catalog records are stored
// in this bare form; lookups accept either form as aliases.
func CanonicalVersion(id string) string {
	return strings.TrimPrefix(id, "v")
}

// NormalizeRelease reduces a version identifier to the form embedded in the
// vendor page's release controls: no "v" prefix, and an all-zero minor
// component collapses to a single zero ("1.00" and "1.0" name the same
// release). Minors with a nonzero digit are kept verbatim so that "1.1" and
// "1.10" remain distinct releases.
func NormalizeRelease(id string) string {
	id = CanonicalVersion(id)
	major, minor, ok := strings.Cut(id, ".")
	if !ok {
		return id
	}
	if strings.Trim(minor, "0") == "" {
		minor = "0"
	}
	return major + "." + minor
}

// SameRelease reports whether two version identifiers name the same release
// after normalization.
func SameRelease(a, b string) bool {
	return NormalizeRelease(a) == NormalizeRelease(b)
}
