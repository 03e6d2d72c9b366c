// Package checksum provides SHA-256 hashing for tarball integrity recording.
// The digest of the exact bytes inspected during intake is stored on the
// intake row so the publish workflow can later confirm it fetched the same
// artifact from the registry.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// SHA256Writer accumulates a SHA-256 digest of everything written to it.
// It is meant to sit in an io.MultiWriter next to the destination file so
// the hash is computed in the same pass as the download.
type SHA256Writer struct {
	h hash.Hash
}

// NewSHA256 returns a fresh SHA256Writer.
func NewSHA256() *SHA256Writer {
	return &SHA256Writer{h: sha256.New()}
}

// Write implements io.Writer.
func (w *SHA256Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// HexSum returns the lowercase hex digest of the bytes written so far.
func (w *SHA256Writer) HexSum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}
