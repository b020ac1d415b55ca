package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Algorithm is the tag prefixed to every rendered digest.
const Algorithm = "sha256"

// Digest is a rendered content digest of the form "sha256:<hex>". The zero
// value is the digest of no content and compares unequal to every real digest.
type Digest string

// String returns the full "<algorithm>:<hex>" rendering.
func (d Digest) String() string { return string(d) }

// Hex returns the hex portion of the digest without the algorithm tag.
func (d Digest) Hex() string {
	if i := strings.IndexByte(string(d), ':'); i >= 0 {
		return string(d[i+1:])
	}
	return string(d)
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool { return d == "" }

// Sum computes the digest of the given bytes. Deterministic and stable across
// container format versions.
func Sum(data []byte) Digest {
	h := sha256.Sum256(data)
	return Digest(Algorithm + ":" + hex.EncodeToString(h[:]))
}

// Fold combines digests into a single digest sensitive to both content and
// order. It hashes the concatenation of the rendered digests separated by a
// newline, so swapping, dropping or truncating records changes the result.
func Fold(digests []Digest) Digest {
	h := sha256.New()
	for _, d := range digests {
		h.Write([]byte(d))
		h.Write([]byte{'\n'})
	}
	return Digest(Algorithm + ":" + hex.EncodeToString(h.Sum(nil)))
}

// Parse validates a rendered digest, returning an error when the algorithm
// tag or hex payload is malformed.
func Parse(s string) (Digest, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", fmt.Errorf("digest %q missing algorithm tag", s)
	}
	if s[:i] != Algorithm {
		return "", fmt.Errorf("unsupported digest algorithm %q", s[:i])
	}
	raw, err := hex.DecodeString(s[i+1:])
	if err != nil {
		return "", fmt.Errorf("digest %q has invalid hex payload: %w", s, err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("digest %q has %d bytes, want %d", s, len(raw), sha256.Size)
	}
	return Digest(s), nil
}
