package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashSize is the byte length of a content digest.
const HashSize = 32

// Hash is a fixed-size digest identifying exact content bytes.
// The zero value is the "zero hash" and is rejected by all write paths.
type Hash [HashSize]byte

// ZeroHash is the all-zero digest. Used as the lineage root marker.
var ZeroHash Hash

// ParseHash decodes a hex string (with or without 0x prefix) into a Hash.
// Short inputs are right-padded with zeros to match the on-wire convention.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) > HashSize*2 {
		return h, fmt.Errorf("contracts: digest too long (%d hex chars)", len(s))
	}
	if len(s)%2 != 0 {
		return h, fmt.Errorf("contracts: odd-length digest")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("contracts: invalid digest: %w", err)
	}
	copy(h[:], raw)
	return h, nil
}

// HashBytes computes the SHA-256 digest of raw bytes.
func HashBytes(data []byte) Hash {
	return sha256.Sum256(data)
}

// HashIP hashes a raw IP address string for privacy. The ledger only ever
// sees this digest, never the raw address.
func HashIP(ip string) Hash {
	return sha256.Sum256([]byte(ip))
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// String returns the 0x-prefixed hex encoding.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Short returns a truncated form for log lines.
func (h Hash) Short() string {
	return "0x" + hex.EncodeToString(h[:8]) + "…"
}

// MarshalText implements encoding.TextMarshaler so Hash keys and fields
// round-trip through JSON deterministically.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
