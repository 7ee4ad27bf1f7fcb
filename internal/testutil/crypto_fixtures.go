package testutil

import (
	"fmt"

	"github.com/torsentry/torsentry/internal/crypto"
)

// SignerFixture represents a ledger signing key pair
type SignerFixture struct {
	// PublicKey is the raw public key bytes
	PublicKey []byte
	// PrivateKey is the raw private key bytes
	PrivateKey []byte
	// KeyID is the identifier stamped on signed blocks
	KeyID string
	// PubHex is the hex-encoded public key
	PubHex string
	// Signer signs and verifies block hashes
	Signer *crypto.HashSigner
}

// NewSignerFixture generates a new Ed25519 signing fixture
func NewSignerFixture() (*SignerFixture, error) {
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	signer, err := crypto.NewHashSigner(pub, priv)
	if err != nil {
		return nil, err
	}

	return &SignerFixture{
		PublicKey:  pub,
		PrivateKey: priv,
		KeyID:      crypto.KeyID(pub),
		PubHex:     crypto.EncodePublicKey(pub),
		Signer:     signer,
	}, nil
}

// MustNewSignerFixture generates a signing fixture or panics
func MustNewSignerFixture() *SignerFixture {
	f, err := NewSignerFixture()
	if err != nil {
		panic(fmt.Sprintf("failed to create signer fixture: %v", err))
	}
	return f
}

// VerifyOnly returns a signer holding only the public key
func (s *SignerFixture) VerifyOnly() *crypto.HashSigner {
	v, err := crypto.NewHashSigner(s.PublicKey, nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create verify-only signer: %v", err))
	}
	return v
}

// Sealed returns the private key sealed under passphrase
func (s *SignerFixture) Sealed(passphrase string) (*crypto.EncryptedData, error) {
	return crypto.Seal(s.PrivateKey, passphrase)
}
