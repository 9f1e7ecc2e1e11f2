package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrInvalidVersion  = errors.New("invalid version format")
	ErrInvalidDigest   = errors.New("invalid digest")
	ErrVersionNotFound = errors.New("version not found in catalog")

	// Page shape / timing errors
	ErrControlNotFound         = errors.New("download control not found")
	ErrChecksumControlNotFound = errors.New("checksum control not found")
	ErrRedirectNotCaptured     = errors.New("binary redirect not captured within capture window")

	// Transfer errors
	ErrTransferTimeout = errors.New("transfer timed out")

	// Extraction exhaustion. Informational: the caller proceeds without a
	// vendor digest rather than aborting.
	ErrNoDigestFound = errors.New("no digest found in checksum dialog")
)

// UnexpectedStatusError is returned when the artifact server responds with a
// non-success status.
type UnexpectedStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

// Error returns the error message
func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %s fetching %s", e.Status, e.URL)
}

// DigestMismatchError is returned when the computed digest of a downloaded
// artifact does not match the expected value. It is always fatal for the
// affected version; the unverified file is left on disk.
type DigestMismatchError struct {
	Path      string
	Algorithm Algorithm
	Expected  string
	Actual    string
}

// Error returns the error message with both digest values
func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch for %s\nExpected: %s\nActual:   %s",
		e.Algorithm, e.Path, e.Expected, e.Actual)
}

// IsDigestMismatch returns the mismatch details if the error is a digest mismatch
func IsDigestMismatch(err error) (*DigestMismatchError, bool) {
	var dm *DigestMismatchError
	if errors.As(err, &dm) {
		return dm, true
	}
	return nil, false
}
