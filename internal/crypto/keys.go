// Package crypto signs evidence block hashes and seals the signing key at rest
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// GenerateKeyPair generates a new Ed25519 key pair
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return pub, priv, nil
}

// Sign signs a message with an Ed25519 private key
func Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.Sign(privateKey, message), nil
}

// Verify verifies a signature against a public key and message
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// KeyID is the first 16 hex characters of SHA256(publicKey).
func KeyID(publicKey []byte) string {
	hash := sha256.Sum256(publicKey)
	return hex.EncodeToString(hash[:8])
}

// HashSigner signs and checks hex-encoded block hashes.
type HashSigner struct {
	public  []byte
	private []byte
	keyID   string
}

// NewHashSigner builds a signer. A nil private key yields a verify-only signer.
func NewHashSigner(publicKey, privateKey []byte) (*HashSigner, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if privateKey != nil && len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	return &HashSigner{public: publicKey, private: privateKey, keyID: KeyID(publicKey)}, nil
}

// KeyID returns the signer's key identifier.
func (s *HashSigner) KeyID() string { return s.keyID }

// CanSign reports whether the signer holds a private key.
func (s *HashSigner) CanSign() bool { return s.private != nil }

// SignHash returns the hex signature over the hash string.
func (s *HashSigner) SignHash(hash string) (string, error) {
	if s.private == nil {
		return "", errors.New("signer has no private key")
	}
	sig, err := Sign(s.private, []byte(hash))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// VerifyHash checks a hex signature produced by SignHash.
func (s *HashSigner) VerifyHash(hash, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return Verify(s.public, []byte(hash), sig)
}

// EncodePublicKey encodes a public key as hex
func EncodePublicKey(publicKey []byte) string {
	return hex.EncodeToString(publicKey)
}

// DecodePublicKey decodes a hex-encoded public key
func DecodePublicKey(encoded string) ([]byte, error) {
	decoded, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid hex encoding: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(decoded))
	}
	return decoded, nil
}
