package objstore

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Hash represents a raw Git object identifier.
//
// It is the 20-byte binary form of a SHA-1 digest as used by Git internally.
// The zero value is the all-zero hash, which never resolves to a real object.
type Hash [20]byte

// ParseHash converts the canonical, 40-character hexadecimal SHA-1 string
// produced by Git into its raw 20-byte representation.
//
// An error is returned when the input is not exactly 40 characters long or
// cannot be decoded as hexadecimal. The zero Hash value (all zero bytes)
// never corresponds to a real Git object and is therefore safe to use as a
// sentinel in maps.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 40 {
		return h, fmt.Errorf("invalid hash length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// String returns the 40-character lowercase hexadecimal form of h.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Compare orders two hashes lexicographically on their raw bytes, the total
// order used by pack-index lookup tables. It returns -1, 0, or +1.
func (h Hash) Compare(other Hash) int { return bytes.Compare(h[:], other[:]) }

// IsZero reports whether h is the all-zero sentinel hash.
func (h Hash) IsZero() bool { return h == Hash{} }
