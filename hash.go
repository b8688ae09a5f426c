package hoard

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Hash is the 128-bit content digest identifying a stored object. It renders
// as 32 lowercase hex characters; parsing is case-insensitive.
type Hash [16]byte

// ParseHash parses a 32-hex-character digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 2*len(h) {
		return Hash{}, fmt.Errorf("hoard: invalid hash %q: want %d hex characters", s, 2*len(h))
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return Hash{}, fmt.Errorf("hoard: invalid hash %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

// String renders the digest as 32 lowercase hex characters.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// newHasher returns the rolling hash used by the streaming writer. The store
// keys on MD5: it is the digest the backend natively tracks per object, and
// the identity here is dedup addressing, not tamper resistance.
func newHasher() hash.Hash {
	return md5.New()
}

// hashOf finalizes a rolling hash into a Hash.
func hashOf(h hash.Hash) Hash {
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
