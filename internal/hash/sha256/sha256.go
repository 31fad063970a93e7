// Package sha256 fingerprints fetched pages so runs over unchanged pages can
// be recognized.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix labels digests produced by this package.
const Prefix = "sha256:"

// Hasher implements catalog.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the algorithm-labelled hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
