package extension

import (
	"bytes"
	"testing"
)

func TestExtensionRoundTrip(t *testing.T) {
	senderEI := bytes.Repeat([]byte{0x55}, SPANExtensionBodySize)
	ext := NewSPAN(senderEI)

	encoded := ext.Encode()
	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("n = %d, want %d", n, len(encoded))
	}
	if decoded.Type != TypeSPAN {
		t.Fatalf("Type = %v, want TypeSPAN", decoded.Type)
	}
	if !decoded.Critical {
		t.Fatal("SPAN extension must be critical")
	}
	if !bytes.Equal(decoded.Body, senderEI) {
		t.Fatalf("Body = %x, want %x", decoded.Body, senderEI)
	}
}

func TestDecodeListStopsAtMoreToFollowClear(t *testing.T) {
	exts := []Extension{
		NewSPAN(bytes.Repeat([]byte{0xAA}, SPANExtensionBodySize)),
		NewMGRP(0x04),
	}
	encoded := EncodeList(exts)

	decoded, n, err := DecodeList(encoded, func(Type) bool { return true })
	if err != nil {
		t.Fatalf("DecodeList() error: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("n = %d, want %d", n, len(encoded))
	}
	if len(decoded) != 2 {
		t.Fatalf("len(decoded) = %d, want 2", len(decoded))
	}
	if decoded[0].MoreToFollow != true || decoded[1].MoreToFollow != false {
		t.Fatalf("MoreToFollow flags = %v,%v, want true,false", decoded[0].MoreToFollow, decoded[1].MoreToFollow)
	}
}

func TestDecodeListWithTrailingBytes(t *testing.T) {
	ext := NewMGRP(0x01)
	encoded := ext.Encode() // single element, MoreToFollow already false

	trailer := []byte{0xDE, 0xAD}
	data := append(append([]byte(nil), encoded...), trailer...)

	decoded, n, err := DecodeList(data, func(Type) bool { return true })
	if err != nil {
		t.Fatalf("DecodeList() error: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("len(decoded) = %d, want 1", len(decoded))
	}
	if n != len(encoded) {
		t.Fatalf("n = %d, want %d", n, len(encoded))
	}
	if !bytes.Equal(data[n:], trailer) {
		t.Fatalf("remaining bytes = %x, want %x", data[n:], trailer)
	}
}

func TestDecodeListUnknownCriticalFails(t *testing.T) {
	unknown := Extension{Type: 0x0F, Critical: true, Body: []byte{0x01}}
	encoded := unknown.Encode()

	_, _, err := DecodeList(encoded, func(t Type) bool { return t == TypeSPAN || t == TypeMGRP })
	if err != ErrUnknownCritical {
		t.Fatalf("got err=%v, want ErrUnknownCritical", err)
	}
}

func TestDecodeListUnknownNonCriticalKept(t *testing.T) {
	unknown := Extension{Type: 0x0F, Critical: false, Body: []byte{0x01}}
	encoded := unknown.Encode()

	decoded, _, err := DecodeList(encoded, func(t Type) bool { return t == TypeSPAN })
	if err != nil {
		t.Fatalf("DecodeList() error: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("len(decoded) = %d, want 1", len(decoded))
	}
}

func TestFind(t *testing.T) {
	exts := []Extension{NewMGRP(0x02), NewSPAN(bytes.Repeat([]byte{0x11}, SPANExtensionBodySize))}

	span, ok := Find(exts, TypeSPAN)
	if !ok {
		t.Fatal("expected to find SPAN extension")
	}
	if len(span.Body) != SPANExtensionBodySize {
		t.Fatalf("len(span.Body) = %d, want %d", len(span.Body), SPANExtensionBodySize)
	}

	if _, ok := Find(exts, TypeMPAN); ok {
		t.Fatal("did not expect to find MPAN extension")
	}
}

func TestDecodeRejectsShortPayload(t *testing.T) {
	if _, _, err := Decode([]byte{0x01}); err != ErrTooShort {
		t.Fatalf("got err=%v, want ErrTooShort", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	if _, _, err := Decode([]byte{0x05, 0x00}); err != ErrLengthMismatch {
		t.Fatalf("got err=%v, want ErrLengthMismatch", err)
	}
}
