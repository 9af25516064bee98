// Package identity manages ed25519 keypairs and signing utilities. Each
// operator, relayer or depositor holds a persistent private key whose public
// half is its ledger address (base58, 32 bytes). This package exposes an
// Identity abstraction for signing and verifying messages and for retrieving
// that address.
package identity

import (
	"crypto/ed25519"

	"github.com/gagliardetto/solana-go"
)

// Identity represents a key holder's cryptographic identity
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    solana.PublicKey
}

// NewIdentity creates a new Identity from a private key
func NewIdentity(privKey ed25519.PrivateKey) *Identity {
	pubKey := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		privateKey: privKey,
		publicKey:  pubKey,
		address:    solana.PublicKeyFromBytes(pubKey),
	}
}

// Generate returns a fresh identity that is not persisted anywhere.
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return NewIdentity(priv), nil
}

// Sign signs the provided message with the identity's private key
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.privateKey, message)
}

// Verify verifies a signature against a message using the identity's public key
func (i *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(i.publicKey, message, signature)
}

// PublicKey returns the raw public key
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// PrivateKey returns the raw private key
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.privateKey
}

// Address returns the ledger address of this identity.
func (i *Identity) Address() solana.PublicKey {
	return i.address
}
