package contracts

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Address identifies a node wallet. It is the 0x-prefixed hex encoding of
// the first 20 bytes of the SHA-256 digest of the node's public key.
type Address string

// ZeroAddress is the empty/unset address. Rejected wherever an identity
// is required.
const ZeroAddress Address = ""

// AddressFromPublicKey derives the wallet address for an ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	sum := sha256.Sum256(pub)
	return Address("0x" + hex.EncodeToString(sum[:20]))
}

// IsZero reports whether the address is unset or all-zero.
func (a Address) IsZero() bool {
	if a == ZeroAddress {
		return true
	}
	s := strings.TrimPrefix(string(a), "0x")
	return strings.Trim(s, "0") == ""
}

func (a Address) String() string { return string(a) }
