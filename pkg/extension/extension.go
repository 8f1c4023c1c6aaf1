// Package extension implements the S2 extension TLV codec: the
// SPAN/MGRP/MPAN extensions carried in the unencrypted and encrypted
// extension lists of an S2 encapsulation (spec.md §4.1).
package extension

import "errors"

// Type identifies an extension's body format.
type Type uint8

const (
	// TypeSPAN carries the sender's Entropy Input establishing a SPAN.
	// Plaintext (unencrypted) extension.
	TypeSPAN Type = 1

	// TypeMGRP carries a 1-byte multicast group id. Plaintext
	// (unencrypted) extension.
	TypeMGRP Type = 3

	// TypeMPAN carries multicast-PAN material. Encrypted extension;
	// multicast decryption itself is out of scope (spec.md Non-goals).
	TypeMPAN Type = 4
)

// Flag bits of an extension's flags byte (spec.md §4.1).
const (
	flagCritical     = 1 << 6
	flagEncrypted    = 1 << 5
	flagMoreToFollow = 1 << 4
	typeMask         = 0x0F

	minExtensionBytes = 2
)

// SPANExtensionBodySize is the fixed length of a SPAN extension body
// (a 16-byte sender EI).
const SPANExtensionBodySize = 16

var (
	ErrTooShort        = errors.New("extension: payload shorter than the minimum extension header")
	ErrLengthMismatch  = errors.New("extension: declared length exceeds available data")
	ErrUnknownCritical = errors.New("extension: unknown critical extension")
)

// Extension is one parsed TLV element of an extension list.
type Extension struct {
	Type         Type
	Critical     bool
	Encrypted    bool
	MoreToFollow bool
	Body         []byte
}

// Encode serializes one extension as length|flags|body.
func (e Extension) Encode() []byte {
	out := make([]byte, minExtensionBytes+len(e.Body))
	out[0] = byte(minExtensionBytes + len(e.Body))

	var flags byte
	if e.Critical {
		flags |= flagCritical
	}
	if e.Encrypted {
		flags |= flagEncrypted
	}
	if e.MoreToFollow {
		flags |= flagMoreToFollow
	}
	flags |= byte(e.Type) & typeMask
	out[1] = flags

	copy(out[minExtensionBytes:], e.Body)
	return out
}

// Decode parses one extension from the start of data, returning the
// number of bytes consumed.
func Decode(data []byte) (Extension, int, error) {
	if len(data) < minExtensionBytes {
		return Extension{}, 0, ErrTooShort
	}

	length := int(data[0])
	if length < minExtensionBytes {
		return Extension{}, 0, ErrTooShort
	}
	if length > len(data) {
		return Extension{}, 0, ErrLengthMismatch
	}

	flags := data[1]
	ext := Extension{
		Type:         Type(flags & typeMask),
		Critical:     flags&flagCritical != 0,
		Encrypted:    flags&flagEncrypted != 0,
		MoreToFollow: flags&flagMoreToFollow != 0,
		Body:         append([]byte(nil), data[minExtensionBytes:length]...),
	}
	return ext, length, nil
}

// DecodeList parses a MoreToFollow chain of extensions starting at the
// beginning of data, stopping after the first extension whose
// MoreToFollow bit is clear. Unknown non-critical extensions are kept
// (the caller may ignore them); unknown critical extensions fail
// parsing, per spec.md §4.1.
func DecodeList(data []byte, known func(Type) bool) ([]Extension, int, error) {
	var out []Extension
	offset := 0

	for {
		ext, n, err := Decode(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		if ext.Critical && known != nil && !known(ext.Type) {
			return nil, 0, ErrUnknownCritical
		}

		out = append(out, ext)
		offset += n

		if !ext.MoreToFollow {
			break
		}
		if offset >= len(data) {
			return nil, 0, ErrTooShort
		}
	}

	return out, offset, nil
}

// EncodeList serializes a list of extensions, patching each element's
// MoreToFollow flag so that only the last carries it set to false.
func EncodeList(exts []Extension) []byte {
	var out []byte
	for i, ext := range exts {
		ext.MoreToFollow = i != len(exts)-1
		out = append(out, ext.Encode()...)
	}
	return out
}

// NewSPAN builds a SPAN extension carrying a 16-byte sender EI.
func NewSPAN(senderEI []byte) Extension {
	return Extension{
		Type:     TypeSPAN,
		Critical: true,
		Body:     append([]byte(nil), senderEI...),
	}
}

// NewMGRP builds an MGRP extension carrying a multicast group id.
func NewMGRP(groupID byte) Extension {
	return Extension{
		Type:     TypeMGRP,
		Critical: true,
		Body:     []byte{groupID},
	}
}

// Find returns the first extension of the given type in exts, if any.
func Find(exts []Extension, t Type) (Extension, bool) {
	for _, e := range exts {
		if e.Type == t {
			return e, true
		}
	}
	return Extension{}, false
}
