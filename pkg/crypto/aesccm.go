// Package crypto provides the cryptographic primitives the S2 layer is
// built from: AES-128-CCM authenticated encryption, a deterministic
// CTR_DRBG for SPAN nonce streams, HKDF-based key derivation, and
// Curve25519 key agreement for the KEX bootstrap.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AES-CCM parameters mandated by Z-Wave Security 2 (spec.md §2, C3).
const (
	// KeySize is the AES-128 key length in bytes.
	KeySize = 16

	// AuthTagSize is SECURITY_S2_AUTH_TAG_LENGTH: an 8-byte CCM tag.
	AuthTagSize = 8

	// NonceSize is the CCM nonce length actually fed to the block
	// cipher. The SPAN generator (ctrdrbg.go) produces 16-byte nonce
	// material; only the leading NonceSize bytes are used as the CCM
	// IV, the rest is discretionary entropy carried for parity with
	// the 16-byte EI/nonce size used throughout the rest of the
	// protocol.
	NonceSize = 13

	blockSize = 16
)

var (
	ErrInvalidKeySize     = errors.New("crypto: invalid key size, must be 16 bytes")
	ErrInvalidNonceSize   = errors.New("crypto: invalid nonce size")
	ErrPlaintextTooLong   = errors.New("crypto: plaintext too long for CCM length field")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than the auth tag")
	ErrAuthFailed         = errors.New("crypto: CCM authentication failed")
)

// CCM is an AES-128-CCM cipher instance parameterized by tag and nonce
// length, following NIST SP 800-38C / RFC 3610.
type CCM struct {
	block   cipher.Block
	tagSize int
	lenSize int // L: message-length field size, L = 15 - nonceSize
}

// NewCCM builds a CCM instance using the S2 tag/nonce sizes
// (AuthTagSize, NonceSize).
func NewCCM(key []byte) (*CCM, error) {
	return NewCCMWithParams(key, NonceSize, AuthTagSize)
}

// NewCCMWithParams builds a CCM instance with explicit sizes, mainly
// for exercising test vectors with non-default parameters.
func NewCCMWithParams(key []byte, nonceSize, tagSize int) (*CCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrInvalidNonceSize
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		return nil, errors.New("crypto: invalid tag size")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CCM{block: block, tagSize: tagSize, lenSize: lenSize}, nil
}

// NonceSize returns the nonce length this instance requires.
func (c *CCM) NonceSize() int { return 15 - c.lenSize }

// TagSize returns the authentication tag length this instance produces.
func (c *CCM) TagSize() int { return c.tagSize }

// Seal encrypts and authenticates plaintext under aad, returning
// ciphertext || tag.
func (c *CCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if maxLen := (1 << (8 * c.lenSize)) - 1; len(plaintext) > maxLen {
		return nil, ErrPlaintextTooLong
	}

	tag := c.cbcMACTag(nonce, plaintext, aad)

	out := make([]byte, len(plaintext)+c.tagSize)
	s0 := c.keystreamBlock(nonce, 0)
	for i := 0; i < c.tagSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}
	c.ctrXor(nonce, out[:len(plaintext)], plaintext)

	return out, nil
}

// Open verifies and decrypts ciphertext (= encrypted-data || tag) under
// aad, returning the plaintext or ErrAuthFailed.
func (c *CCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < c.tagSize {
		return nil, ErrCiphertextTooShort
	}

	encData := ciphertext[:len(ciphertext)-c.tagSize]
	encTag := ciphertext[len(ciphertext)-c.tagSize:]

	s0 := c.keystreamBlock(nonce, 0)
	receivedTag := make([]byte, c.tagSize)
	for i := 0; i < c.tagSize; i++ {
		receivedTag[i] = encTag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(encData))
	c.ctrXor(nonce, plaintext, encData)

	expectedTag := c.cbcMACTag(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(receivedTag, expectedTag[:c.tagSize]) != 1 {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// cbcMACTag computes the CBC-MAC authentication value (RFC 3610 §2.2).
func (c *CCM) cbcMACTag(nonce, plaintext, aad []byte) []byte {
	var b0 [blockSize]byte
	var flags byte
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	flags |= byte((c.tagSize-2)/2) << 3
	flags |= byte(c.lenSize - 1)
	b0[0] = flags

	nonceSize := c.NonceSize()
	copy(b0[1:1+nonceSize], nonce)
	c.putLength(b0[1+nonceSize:], len(plaintext))

	mac := make([]byte, blockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		var hdr [blockSize]byte
		aadLen := len(aad)
		var hdrLen int
		switch {
		case aadLen < (1<<16)-(1<<8):
			binary.BigEndian.PutUint16(hdr[0:2], uint16(aadLen))
			hdrLen = 2
		case uint64(aadLen) < (1 << 32):
			hdr[0], hdr[1] = 0xFF, 0xFE
			binary.BigEndian.PutUint32(hdr[2:6], uint32(aadLen))
			hdrLen = 6
		default:
			hdr[0], hdr[1] = 0xFF, 0xFF
			binary.BigEndian.PutUint64(hdr[2:10], uint64(aadLen))
			hdrLen = 10
		}

		firstChunk := blockSize - hdrLen
		if firstChunk > len(aad) {
			firstChunk = len(aad)
		}
		copy(hdr[hdrLen:], aad[:firstChunk])
		xorBlock(mac, hdr[:])
		c.block.Encrypt(mac, mac)

		remaining := aad[firstChunk:]
		for len(remaining) > 0 {
			var block [blockSize]byte
			n := copy(block[:], remaining)
			remaining = remaining[n:]
			xorBlock(mac, block[:])
			c.block.Encrypt(mac, mac)
		}
	}

	remaining := plaintext
	for len(remaining) > 0 {
		var block [blockSize]byte
		n := copy(block[:], remaining)
		remaining = remaining[n:]
		xorBlock(mac, block[:])
		c.block.Encrypt(mac, mac)
	}

	return mac[:c.tagSize]
}

func xorBlock(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// keystreamBlock computes E(K, A_i) for the CTR counter block i.
func (c *CCM) keystreamBlock(nonce []byte, counter uint64) []byte {
	var a [blockSize]byte
	a[0] = byte(c.lenSize - 1)
	nonceSize := c.NonceSize()
	copy(a[1:1+nonceSize], nonce)
	c.putLength(a[1+nonceSize:], int(counter))

	s := make([]byte, blockSize)
	c.block.Encrypt(s, a[:])
	return s
}

// ctrXor encrypts/decrypts src into dst using CTR mode starting at
// counter 1 (counter 0 is reserved for the tag keystream).
func (c *CCM) ctrXor(nonce []byte, dst, src []byte) {
	var ctr [blockSize]byte
	ctr[0] = byte(c.lenSize - 1)
	nonceSize := c.NonceSize()
	copy(ctr[1:1+nonceSize], nonce)
	ctr[blockSize-1] = 1

	var keystream [blockSize]byte
	for i := 0; i < len(src); i += blockSize {
		c.block.Encrypt(keystream[:], ctr[:])
		end := i + blockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ keystream[j-i]
		}
		incrementCounter(ctr[blockSize-c.lenSize:])
	}
}

func (c *CCM) putLength(dst []byte, length int) {
	for i := c.lenSize - 1; i >= 0; i-- {
		dst[i] = byte(length)
		length >>= 8
	}
}

func incrementCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}

// Encrypt is a convenience wrapper producing ciphertext || 8-byte tag
// using the S2 parameters. nonce must be at least NonceSize bytes; only
// the leading NonceSize bytes are used.
func Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	ccm, err := NewCCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) < NonceSize {
		return nil, ErrInvalidNonceSize
	}
	return ccm.Seal(nonce[:NonceSize], plaintext, aad)
}

// Decrypt is the inverse of Encrypt.
func Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	ccm, err := NewCCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) < NonceSize {
		return nil, ErrInvalidNonceSize
	}
	return ccm.Open(nonce[:NonceSize], ciphertext, aad)
}
