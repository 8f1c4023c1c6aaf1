package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// ErrInvalidSeedSize is returned when Instantiate is given a seed shorter
// than KeySize+16 bytes.
var ErrInvalidSeedSize = errors.New("crypto: seed too short, need at least key size + 16 bytes")

// DRBG is a deterministic AES-128-CTR-DRBG (NIST SP 800-90A), used to turn
// the pair of Entropy Inputs exchanged during SPAN establishment into an
// endless nonce stream (spec.md §4.4). Unlike a general-purpose DRBG seeded
// from crypto/rand, Instantiate is fully deterministic: the same seed and
// personalization string always produce the same generator state, which is
// what lets both peers derive an identical nonce stream from the same two
// Entropy Inputs.
type DRBG struct {
	block cipher.Block
	v     [16]byte
}

// seedSize is KeySize (the AES-128 key) plus one block (the initial
// counter V), matching the teacher pattern's key-then-V seed layout.
const seedSize = KeySize + 16

// Instantiate derives a DRBG from a seed and an optional personalization
// string, following the seed-material layout key||V, with the
// personalization string XORed into the seed before the key/V split (SP
// 800-90A §10.2.1.3.2). seed must be at least seedSize bytes; extra bytes
// are ignored, letting callers pass the concatenation of both Entropy
// Inputs directly.
func Instantiate(seed, personalization []byte) (*DRBG, error) {
	if len(seed) < seedSize {
		return nil, ErrInvalidSeedSize
	}

	material := make([]byte, seedSize)
	copy(material, seed[:seedSize])
	for i := range personalization {
		material[i%seedSize] ^= personalization[i]
	}

	block, err := aes.NewCipher(material[:KeySize])
	if err != nil {
		return nil, err
	}

	d := &DRBG{block: block}
	copy(d.v[:], material[KeySize:seedSize])
	return d, nil
}

// Generate produces n bytes of the keystream, advancing the internal
// counter. Each call continues the same stream; it never repeats a
// counter value for the lifetime of the DRBG.
func (d *DRBG) Generate(n int) []byte {
	out := make([]byte, n)
	d.fill(out)
	return out
}

// GenerateInto fills the entirety of dst with the next portion of the
// keystream.
func (d *DRBG) GenerateInto(dst []byte) {
	d.fill(dst)
}

func (d *DRBG) fill(b []byte) {
	n := len(b)
	offset := 0
	for ; offset+blockSize <= n; offset += blockSize {
		incV(&d.v)
		d.block.Encrypt(b[offset:offset+blockSize], d.v[:])
	}
	if tail := n - offset; tail > 0 {
		var tmp [blockSize]byte
		incV(&d.v)
		d.block.Encrypt(tmp[:], d.v[:])
		copy(b[offset:], tmp[:tail])
	}
}

// incV increments the 128-bit counter V in big-endian order, as per the
// CTR_DRBG construction (SP 800-90A §10.2.1.2).
func incV(v *[16]byte) {
	for i := len(v) - 1; i >= 0; i-- {
		v[i]++
		if v[i] != 0 {
			break
		}
	}
}
