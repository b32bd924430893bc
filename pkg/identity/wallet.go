// Package identity implements node wallets: the Ed25519 keypair whose
// derived address is what the access registry authorizes. Every submission
// a node makes is signed with its wallet key so peers can verify origin
// without trusting transport.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sentinelmesh/core/pkg/contracts"
)

var (
	// ErrBadSignature is returned when signature verification fails.
	ErrBadSignature = errors.New("identity: signature verification failed")
	// ErrCorruptKeystore is returned when a keystore file cannot be decoded.
	ErrCorruptKeystore = errors.New("identity: corrupt keystore")
)

// Wallet holds a node's signing keypair and derived address.
type Wallet struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	addr contracts.Address
}

// Generate creates a fresh wallet.
func Generate() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return fromKey(priv, pub), nil
}

// FromPrivateKey reconstructs a wallet from an existing key.
func FromPrivateKey(priv ed25519.PrivateKey) (*Wallet, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: bad private key size %d", len(priv))
	}
	return fromKey(priv, priv.Public().(ed25519.PublicKey)), nil
}

func fromKey(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Wallet {
	return &Wallet{
		priv: priv,
		pub:  pub,
		addr: contracts.AddressFromPublicKey(pub),
	}
}

// Address returns the wallet's registry address.
func (w *Wallet) Address() contracts.Address {
	return w.addr
}

// PublicKeyHex returns the hex-encoded public key.
func (w *Wallet) PublicKeyHex() string {
	return hex.EncodeToString(w.pub)
}

// Sign returns the hex-encoded signature over data.
func (w *Wallet) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(w.priv, data))
}

// Verify checks a hex signature made by pubKeyHex over data, and that the
// key derives the claimed address.
func Verify(addr contracts.Address, pubKeyHex, sigHex string, data []byte) error {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("identity: invalid public key: %w", err)
	}
	if contracts.AddressFromPublicKey(pub) != addr {
		return fmt.Errorf("identity: key does not derive address %s", addr)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("identity: invalid signature hex: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrBadSignature
	}
	return nil
}

// keystoreFile is the on-disk wallet format.
type keystoreFile struct {
	Address    contracts.Address `json:"address"`
	PublicKey  string            `json:"public_key"`
	PrivateKey string            `json:"private_key"`
}

// Save writes the wallet to path, readable only by the owning user.
func (w *Wallet) Save(path string) error {
	raw, err := json.MarshalIndent(keystoreFile{
		Address:    w.addr,
		PublicKey:  w.PublicKeyHex(),
		PrivateKey: hex.EncodeToString(w.priv),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Load reads a wallet from a keystore file, re-deriving and checking the
// stored address against the key material.
func Load(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read keystore: %w", err)
	}
	var ks keystoreFile
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKeystore, err)
	}
	priv, err := hex.DecodeString(ks.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, ErrCorruptKeystore
	}
	w, err := FromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if ks.Address != "" && ks.Address != w.addr {
		return nil, fmt.Errorf("%w: stored address %s does not match key", ErrCorruptKeystore, ks.Address)
	}
	return w, nil
}
