package crypto

import (
	"bytes"
	"testing"
)

func TestCurve25519ECDHAgreement(t *testing.T) {
	alice, err := GenerateCurve25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateCurve25519KeyPair() error: %v", err)
	}
	bob, err := GenerateCurve25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateCurve25519KeyPair() error: %v", err)
	}

	if len(alice.PublicKey()) != Curve25519KeySize {
		t.Fatalf("len(PublicKey()) = %d, want %d", len(alice.PublicKey()), Curve25519KeySize)
	}

	aliceSecret, err := alice.ECDH(bob.PublicKey())
	if err != nil {
		t.Fatalf("alice.ECDH() error: %v", err)
	}
	bobSecret, err := bob.ECDH(alice.PublicKey())
	if err != nil {
		t.Fatalf("bob.ECDH() error: %v", err)
	}

	if !bytes.Equal(aliceSecret, bobSecret) {
		t.Fatalf("shared secrets differ: alice=%x bob=%x", aliceSecret, bobSecret)
	}
	if len(aliceSecret) != Curve25519KeySize {
		t.Fatalf("len(secret) = %d, want %d", len(aliceSecret), Curve25519KeySize)
	}
}

func TestCurve25519KeyPairFromPrivateKeyIsStable(t *testing.T) {
	priv := bytes.Repeat([]byte{0x07}, Curve25519KeySize)

	kp1, err := Curve25519KeyPairFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("Curve25519KeyPairFromPrivateKey() error: %v", err)
	}
	kp2, err := Curve25519KeyPairFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("Curve25519KeyPairFromPrivateKey() error: %v", err)
	}

	if !bytes.Equal(kp1.PublicKey(), kp2.PublicKey()) {
		t.Fatal("same private scalar produced different public keys")
	}
}

func TestCurve25519RejectsInvalidPrivateKey(t *testing.T) {
	if _, err := Curve25519KeyPairFromPrivateKey([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short private key, got nil")
	}
}
