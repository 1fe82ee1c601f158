// Package digest provides content hashing for change detection.
package digest

import (
	"crypto/md5" //nolint:gosec // change detection only, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Supported algorithms.
const (
	MD5    = "md5"
	SHA256 = "sha256"
)

// Hasher implements netwatch.Hasher with a configurable algorithm.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a hasher for algorithm. An empty algorithm selects md5, which keeps
// digests compatible with previously stored hashes.
func New(algorithm string) (*Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", MD5:
		return &Hasher{algorithm: MD5, newHash: md5.New}, nil
	case SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// Algorithm returns the configured algorithm name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := h.newHash()
	if _, err := sum.Write(data); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
