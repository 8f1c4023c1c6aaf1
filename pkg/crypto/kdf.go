package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key-schedule labels. The S2 command class derives keyCCM, keyMPAN and
// the per-class personalization string from a single permanent network
// key; this package treats that derivation opaquely (spec.md §3) behind
// HKDF-SHA256, the same extract/expand construction the teacher uses
// for its session and privacy keys.
var (
	infoKeyCCM  = []byte("CCM")
	infoKeyMPAN = []byte("MPAN")
	infoPString = []byte("PersonalizationString")
	infoKEXTemp = []byte("TempKey")
	infoKEXSpan = []byte("TempSPANSeed")
)

// DerivedKeySize is the byte length of every key this package derives.
const DerivedKeySize = KeySize

// NetworkKeySet holds the keys derived from one permanent network key,
// one per security class (spec.md §3).
type NetworkKeySet struct {
	PNK                   [KeySize]byte // permanent network key, as provided by the host
	KeyCCM                [KeySize]byte
	KeyMPAN               [KeySize]byte
	PersonalizationString [KeySize]byte
}

// DeriveNetworkKeySet expands a permanent network key into its CCM key,
// MPAN key and personalization string.
func DeriveNetworkKeySet(pnk []byte) (*NetworkKeySet, error) {
	if len(pnk) != KeySize {
		return nil, ErrInvalidKeySize
	}

	ks := &NetworkKeySet{}
	copy(ks.PNK[:], pnk)

	ccmKey, err := HKDFSHA256(pnk, nil, infoKeyCCM, DerivedKeySize)
	if err != nil {
		return nil, err
	}
	copy(ks.KeyCCM[:], ccmKey)

	mpanKey, err := HKDFSHA256(pnk, nil, infoKeyMPAN, DerivedKeySize)
	if err != nil {
		return nil, err
	}
	copy(ks.KeyMPAN[:], mpanKey)

	pString, err := HKDFSHA256(pnk, nil, infoPString, DerivedKeySize)
	if err != nil {
		return nil, err
	}
	copy(ks.PersonalizationString[:], pString)

	return ks, nil
}

// HKDFSHA256 derives `length` bytes of key material using HKDF-SHA256
// (RFC 5869): HKDF-Expand(PRK := HKDF-Extract(salt, ikm), info, length).
func HKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveKEXTempPNK derives the temporary permanent network key used
// during KEX bootstrap from the ECDH shared secret (spec.md §4.6). The
// result is run through DeriveNetworkKeySet exactly like a normal
// network key to obtain the temp SPAN's CCM key.
func DeriveKEXTempPNK(sharedSecret []byte) ([]byte, error) {
	return HKDFSHA256(sharedSecret, nil, infoKEXTemp, DerivedKeySize)
}

// DeriveKEXTempSPANSeed derives the 32 bytes of EI material (first 16 =
// senderEI, last 16 = receiverEI) both parties use to seed the
// temporary SPAN. Because both sides compute the same ECDH shared
// secret, they arrive at identical seed material without an explicit
// NonceGet/Report round trip (spec.md §4.6 leaves the temp SPAN's
// establishment unspecified; see DESIGN.md).
func DeriveKEXTempSPANSeed(sharedSecret []byte) ([]byte, error) {
	return HKDFSHA256(sharedSecret, nil, infoKEXSpan, 2*DerivedKeySize)
}
