// Package sha256 derives stable object names from content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Hasher returns hex SHA-256 digests, optionally cut to a fixed length.
type Hasher struct {
	length int
}

// New returns a hasher producing full 64-character digests.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated keeps the first n hex characters of each digest.
func NewTruncated(n int) *Hasher {
	if n <= 0 || n > hex.EncodedLen(sha256.Size) {
		return New()
	}
	return &Hasher{length: n}
}

// Hash digests data. Empty input is rejected so unrelated objects never
// collide on the digest of nothing.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("nothing to hash")
	}
	sum := sha256.Sum256(data)
	out := hex.EncodeToString(sum[:])
	if h.length > 0 {
		out = out[:h.length]
	}
	return out, nil
}
