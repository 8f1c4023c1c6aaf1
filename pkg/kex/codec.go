// Package kex implements the S2 Key Exchange bootstrap dialog (spec.md
// §4.6, C6): the command codecs and the joining-node/including-node
// state machines that carry a node from an unkeyed KEXGet through ECDH
// key agreement to a fully granted set of network keys.
package kex

import (
	"errors"

	"github.com/go-zwave/s2/pkg/bitmask"
	"github.com/go-zwave/s2/pkg/securemgr"
)

// Command identifiers within the Security 2 command class (spec.md
// §4.6).
const (
	CommandKEXGet           = 0x04
	CommandKEXReport        = 0x05
	CommandKEXSet           = 0x06
	CommandKEXFail          = 0x07
	CommandPublicKeyReport  = 0x08
	CommandNetworkKeyGet    = 0x09
	CommandNetworkKeyReport = 0x0A
	CommandNetworkKeyVerify = 0x0F
	CommandTransferEnd      = 0x0B
)

// KEXScheme bit positions, byte 1 of KEXReport/KEXSet (spec.md §4.6).
// Bit 0 is reserved; KEXScheme1 is the only scheme defined here.
const (
	KEXScheme1 byte = 1 << 1
)

// ECDHProfile bit positions, byte 2 of KEXReport/KEXSet. Curve25519 is
// bit 0.
const (
	ECDHProfileCurve25519 byte = 1 << 0
)

// classBit maps a SecurityClass onto its bit in byte 3 of
// KEXReport/KEXSet, starting at S2_Unauthenticated (spec.md §4.6).
func classBit(class securemgr.SecurityClass) (byte, bool) {
	switch class {
	case securemgr.SecurityClassS2Unauthenticated:
		return 1 << 0, true
	case securemgr.SecurityClassS2Authenticated:
		return 1 << 1, true
	case securemgr.SecurityClassS2AccessControl:
		return 1 << 2, true
	case securemgr.SecurityClassS0Legacy:
		return 1 << 7, true
	default:
		return 0, false
	}
}

func classesToBitmask(classes []securemgr.SecurityClass) byte {
	return ClassesToBitmask(classes)
}

// ClassesToBitmask builds byte 3 of a KEXReport/KEXSet from the classes
// to advertise or grant, for callers (e.g. cmd/s2demo) constructing a
// KEXReportSet outside this package.
func ClassesToBitmask(classes []securemgr.SecurityClass) byte {
	var mask byte
	for _, c := range classes {
		if bit, ok := classBit(c); ok {
			mask |= bit
		}
	}
	return mask
}

func bitmaskToClasses(mask byte) []securemgr.SecurityClass {
	var out []securemgr.SecurityClass
	for _, c := range []securemgr.SecurityClass{
		securemgr.SecurityClassS2Unauthenticated,
		securemgr.SecurityClassS2Authenticated,
		securemgr.SecurityClassS2AccessControl,
		securemgr.SecurityClassS0Legacy,
	} {
		if bit, _ := classBit(c); mask&bit != 0 {
			out = append(out, c)
		}
	}
	return out
}

var (
	ErrPayloadInvalid  = errors.New("kex: payload failed a length or range check")
	ErrPopcountInvalid = errors.New("kex: KEXSet scheme/profile byte must select exactly one bit")
)

// byte 0 flag bits shared by KEXReport and KEXSet.
const (
	flagEcho = 1 << 0
	flagCSA  = 1 << 1 // requestCSA on Report, permitCSA on Set
)

// KEXReportSet is the shared record shape for KEXReport and KEXSet
// (spec.md §4.6 bit-level codec); KEXReport additionally carries every
// scheme/profile/class the node supports, while KEXSet carries exactly
// one selected scheme and profile.
type KEXReportSet struct {
	Echo       bool
	CSA        bool // requestCSA (Report) / permitCSA (Set)
	Schemes    byte // bitmask, byte 1
	Profiles   byte // bitmask, byte 2
	ClassesRaw byte // bitmask, byte 3
}

// Classes decodes ClassesRaw into a SecurityClass slice.
func (k KEXReportSet) Classes() []securemgr.SecurityClass { return bitmaskToClasses(k.ClassesRaw) }

func encodeKEXReportSet(k KEXReportSet) []byte {
	var flags byte
	if k.Echo {
		flags |= flagEcho
	}
	if k.CSA {
		flags |= flagCSA
	}
	return []byte{flags, k.Schemes, k.Profiles, k.ClassesRaw}
}

func decodeKEXReportSet(data []byte) (KEXReportSet, error) {
	if len(data) < 4 {
		return KEXReportSet{}, ErrPayloadInvalid
	}
	return KEXReportSet{
		Echo:       data[0]&flagEcho != 0,
		CSA:        data[0]&flagCSA != 0,
		Schemes:    data[1],
		Profiles:   data[2],
		ClassesRaw: data[3],
	}, nil
}

// EncodeKEXReport serializes a KEXReport.
func EncodeKEXReport(r KEXReportSet) []byte { return encodeKEXReportSet(r) }

// DecodeKEXReport parses a KEXReport.
func DecodeKEXReport(data []byte) (KEXReportSet, error) { return decodeKEXReportSet(data) }

// EncodeKEXSet serializes a KEXSet, enforcing the popcount==1 rule on
// the scheme and profile bytes (spec.md §4.6).
func EncodeKEXSet(s KEXReportSet) ([]byte, error) {
	if bitmask.PopCount([]byte{s.Schemes}) != 1 {
		return nil, ErrPopcountInvalid
	}
	if bitmask.PopCount([]byte{s.Profiles}) != 1 {
		return nil, ErrPopcountInvalid
	}
	return encodeKEXReportSet(s), nil
}

// DecodeKEXSet parses a KEXSet, enforcing the popcount==1 rule.
func DecodeKEXSet(data []byte) (KEXReportSet, error) {
	s, err := decodeKEXReportSet(data)
	if err != nil {
		return KEXReportSet{}, err
	}
	if bitmask.PopCount([]byte{s.Schemes}) != 1 {
		return KEXReportSet{}, ErrPopcountInvalid
	}
	if bitmask.PopCount([]byte{s.Profiles}) != 1 {
		return KEXReportSet{}, ErrPopcountInvalid
	}
	return s, nil
}

// Equal reports whether two KEXReportSet records are identical except
// for the Echo bit (spec.md §8 property 8, KEX echo equality).
func (k KEXReportSet) Equal(other KEXReportSet) bool {
	return k.CSA == other.CSA && k.Schemes == other.Schemes &&
		k.Profiles == other.Profiles && k.ClassesRaw == other.ClassesRaw
}

// PublicKeyReport carries one party's Curve25519 public key.
type PublicKeyReport struct {
	IncludingNode bool
	PublicKey     []byte // 32 bytes
}

// EncodePublicKeyReport serializes a PublicKeyReport.
func EncodePublicKeyReport(r PublicKeyReport) []byte {
	out := make([]byte, 1+len(r.PublicKey))
	if r.IncludingNode {
		out[0] = 1
	}
	copy(out[1:], r.PublicKey)
	return out
}

// DecodePublicKeyReport parses a PublicKeyReport.
func DecodePublicKeyReport(data []byte) (PublicKeyReport, error) {
	const keySize = 32
	if len(data) < 1+keySize {
		return PublicKeyReport{}, ErrPayloadInvalid
	}
	return PublicKeyReport{
		IncludingNode: data[0] != 0,
		PublicKey:     append([]byte(nil), data[1:1+keySize]...),
	}, nil
}

// NetworkKeyGet requests the network key for one security class.
type NetworkKeyGet struct {
	RequestedKey securemgr.SecurityClass
}

func EncodeNetworkKeyGet(g NetworkKeyGet) ([]byte, error) {
	bit, ok := classBit(g.RequestedKey)
	if !ok {
		return nil, ErrPayloadInvalid
	}
	return []byte{bit}, nil
}

func DecodeNetworkKeyGet(data []byte) (NetworkKeyGet, error) {
	if len(data) < 1 {
		return NetworkKeyGet{}, ErrPayloadInvalid
	}
	classes := bitmaskToClasses(data[0])
	if len(classes) != 1 {
		return NetworkKeyGet{}, ErrPayloadInvalid
	}
	return NetworkKeyGet{RequestedKey: classes[0]}, nil
}

// NetworkKeyReport carries the permanent network key for GrantedKey.
type NetworkKeyReport struct {
	GrantedKey securemgr.SecurityClass
	NetworkKey []byte // 16 bytes
}

func EncodeNetworkKeyReport(r NetworkKeyReport) ([]byte, error) {
	bit, ok := classBit(r.GrantedKey)
	if !ok || len(r.NetworkKey) != 16 {
		return nil, ErrPayloadInvalid
	}
	out := make([]byte, 1+16)
	out[0] = bit
	copy(out[1:], r.NetworkKey)
	return out, nil
}

func DecodeNetworkKeyReport(data []byte) (NetworkKeyReport, error) {
	if len(data) < 1+16 {
		return NetworkKeyReport{}, ErrPayloadInvalid
	}
	classes := bitmaskToClasses(data[0])
	if len(classes) != 1 {
		return NetworkKeyReport{}, ErrPayloadInvalid
	}
	return NetworkKeyReport{
		GrantedKey: classes[0],
		NetworkKey: append([]byte(nil), data[1:1+16]...),
	}, nil
}

// TransferEnd signals the per-class verification result, or (on the
// final message of the dialog) overall completion (spec.md §4.6).
type TransferEnd struct {
	KeyVerified        bool
	KeyRequestComplete bool
}

const (
	transferEndFlagKeyVerified        = 1 << 0
	transferEndFlagKeyRequestComplete = 1 << 1
)

func EncodeTransferEnd(t TransferEnd) []byte {
	var flags byte
	if t.KeyVerified {
		flags |= transferEndFlagKeyVerified
	}
	if t.KeyRequestComplete {
		flags |= transferEndFlagKeyRequestComplete
	}
	return []byte{flags}
}

func DecodeTransferEnd(data []byte) (TransferEnd, error) {
	if len(data) < 1 {
		return TransferEnd{}, ErrPayloadInvalid
	}
	return TransferEnd{
		KeyVerified:        data[0]&transferEndFlagKeyVerified != 0,
		KeyRequestComplete: data[0]&transferEndFlagKeyRequestComplete != 0,
	}, nil
}
