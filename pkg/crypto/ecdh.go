package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// Curve25519 key sizes used by the KEX bootstrap (spec.md §4.6).
const (
	// Curve25519KeySize is the length of both the public and private key
	// encodings and of the raw ECDH shared secret.
	Curve25519KeySize = 32
)

// Curve25519KeyPair is an ephemeral key pair used for one KEX exchange.
type Curve25519KeyPair struct {
	priv *ecdh.PrivateKey
}

// GenerateCurve25519KeyPair generates a fresh ephemeral key pair.
func GenerateCurve25519KeyPair() (*Curve25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate curve25519 key: %w", err)
	}
	return &Curve25519KeyPair{priv: priv}, nil
}

// Curve25519KeyPairFromPrivateKey rebuilds a key pair from a raw 32-byte
// scalar, mainly for exercising fixed test vectors.
func Curve25519KeyPairFromPrivateKey(privateKey []byte) (*Curve25519KeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid curve25519 private key: %w", err)
	}
	return &Curve25519KeyPair{priv: priv}, nil
}

// PublicKey returns the 32-byte public key to send in PublicKeyReport.
func (kp *Curve25519KeyPair) PublicKey() []byte {
	return kp.priv.PublicKey().Bytes()
}

// ECDH computes the raw 32-byte shared secret with a peer's public key.
// The caller runs the result through DeriveKEXTempPNK, never using it
// directly as key material.
func (kp *Curve25519KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	peerPub, err := ecdh.X25519().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid peer public key: %w", err)
	}
	secret, err := kp.priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: curve25519 ecdh failed: %w", err)
	}
	return secret, nil
}
