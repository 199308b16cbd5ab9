// Package digest implements the fixed-size content digest used to address
// every blob in a puzzlefs image.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	odigest "github.com/opencontainers/go-digest"
)

// Size is the length in bytes of a Digest.
const Size = 32

// Digest is a 32-byte SHA-256 content digest. Unlike opencontainers/go-digest's
// Digest, it is a raw fixed-size value (no "sha256:" prefix): Display is
// lowercase hex, matching spec section 3.
type Digest [Size]byte

// Zero is the all-zero digest, used as a sentinel for "no verity data".
var Zero Digest

// FromBytes hashes b and returns its digest.
func FromBytes(b []byte) Digest {
	d := odigest.SHA256.FromBytes(b)
	return mustParse(d)
}

// FromReader hashes the entirety of r and returns its digest.
func FromReader(r io.Reader) (Digest, error) {
	d, err := odigest.SHA256.FromReader(r)
	if err != nil {
		return Digest{}, err
	}
	return mustParse(d), nil
}

func mustParse(d odigest.Digest) Digest {
	raw, err := hex.DecodeString(d.Encoded())
	if err != nil || len(raw) != Size {
		panic(fmt.Sprintf("digest: unexpected encoded length from %s library: %v", odigest.SHA256, err))
	}
	var out Digest
	copy(out[:], raw)
	return out
}

// Parse decodes a lowercase hex string into a Digest.
func Parse(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: %w", err)
	}
	if len(raw) != Size {
		return Digest{}, fmt.Errorf("digest: expected %d bytes, got %d", Size, len(raw))
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// String returns the lowercase hex encoding of d.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Less orders digests by their raw bytes, for deterministic iteration over
// sets of digests (e.g. when listing the chunks a delta build can skip).
func Less(a, b Digest) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Hasher streams bytes into a running digest computation, for callers (the
// blob store) that need to hash data as it is written rather than all at
// once.
type Hasher struct {
	h odigest.Digester
}

// NewHasher returns a Hasher ready to accept Write calls.
func NewHasher() *Hasher {
	return &Hasher{h: odigest.SHA256.Digester()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Hash().Write(p)
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	return mustParse(h.h.Digest())
}
