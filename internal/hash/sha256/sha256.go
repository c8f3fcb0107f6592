// Package sha256 names snapshot artifacts by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes page content.
type Hasher struct {
	// Length truncates digests; zero keeps the full 64 hex characters.
	Length int
}

// New returns a hasher producing digests of length hex characters.
func New(length int) *Hasher {
	return &Hasher{Length: length}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Length > 0 && h.Length < len(digest) {
		return digest[:h.Length]
	}
	return digest
}
