package ota

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// Digest accumulates a checksum over firmware bytes as they stream through.
// It implements io.Writer so the download loop can tee into flash and hash
// with a single bounded buffer.
type Digest struct {
	h hash.Hash
}

// NewDigest returns a digest for the announced algorithm, or nil when the
// algorithm is unset, NONE, or unsupported. A nil digest means verification
// is skipped.
func NewDigest(algorithm string) *Digest {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "SHA256":
		return &Digest{h: sha256.New()}
	default:
		return nil
	}
}

func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum renders the accumulated digest as lowercase hex.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Matches compares against an expected hex checksum, case-insensitively.
func (d *Digest) Matches(expected string) bool {
	return strings.EqualFold(d.Sum(), strings.TrimSpace(expected))
}
