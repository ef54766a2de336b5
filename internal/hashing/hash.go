// Package hashing provides the content fingerprint used by every other
// component. The algorithm is fixed for the life of the system; a change is
// modeled as an algorithm_upgrade reseal, never a silent re-hash of history.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Algorithm is the fixed content hash algorithm identifier.
const Algorithm = "sha256"

// Hash returns the hex-encoded SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex-encoded SHA-256 digest of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// HashReader streams r through SHA-256 and returns the hex digest.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
