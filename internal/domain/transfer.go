package domain

import (
	"fmt"
	"regexp"
	"time"
)

// Algorithm identifies the hash function used for an artifact digest.
type Algorithm string

const (
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmMD5    Algorithm = "md5"
)

const (
	// Hex digest lengths for the supported algorithms.
	SHA256HexLen = 64
	MD5HexLen    = 32
)

var hexDigestPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// ValidDigest reports whether s is a well-formed hex digest for one of the
// supported algorithms.
func ValidDigest(s string) bool {
	if len(s) != SHA256HexLen && len(s) != MD5HexLen {
		return false
	}
	return hexDigestPattern.MatchString(s)
}

// InferAlgorithm maps a hex digest to its algorithm by length. Lengths other
// than 32 and 64 are rejected rather than guessed at, so a truncated value
// can never be verified under the wrong algorithm.
func InferAlgorithm(digest string) (Algorithm, error) {
	switch len(digest) {
	case SHA256HexLen:
		return AlgorithmSHA256, nil
	case MD5HexLen:
		return AlgorithmMD5, nil
	default:
		return "", fmt.Errorf("digest %q has length %d, want %d or %d: %w",
			digest, len(digest), MD5HexLen, SHA256HexLen, ErrInvalidDigest)
	}
}

// TransferProgress is a point-in-time snapshot of a running transfer,
// recomputed on every received chunk.
type TransferProgress struct {
	BytesTransferred int64
	// TotalBytes is 0 when the server did not advertise a size.
	TotalBytes int64
	// Fraction is BytesTransferred/TotalBytes, or -1 when TotalBytes is
	// unknown.
	Fraction float64
}

// ProgressFunc receives progress snapshots during a transfer.
type ProgressFunc func(TransferProgress)

// TransferResult describes a fully drained transfer. Immutable once returned.
type TransferResult struct {
	DestinationPath string
	ByteCount       int64
	Digest          string
	Algorithm       Algorithm
	CompletedAt     time.Time
}
