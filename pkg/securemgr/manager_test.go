package securemgr

import (
	"bytes"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	if err := m.Keys().SetNetworkKey(SecurityClassS2Authenticated, bytes.Repeat([]byte{0x11}, 16)); err != nil {
		t.Fatalf("SetNetworkKey() error: %v", err)
	}
	if err := m.Keys().SetNetworkKey(SecurityClassTemporary, bytes.Repeat([]byte{0x22}, 16)); err != nil {
		t.Fatalf("SetNetworkKey() error: %v", err)
	}
	return m
}

func TestNextSequenceNumberMonotonic(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(5)

	first, err := m.NextSequenceNumber(peer)
	if err != nil {
		t.Fatalf("NextSequenceNumber() error: %v", err)
	}

	for i := 1; i <= 5; i++ {
		next, err := m.NextSequenceNumber(peer)
		if err != nil {
			t.Fatalf("NextSequenceNumber() error: %v", err)
		}
		want := first + byte(i)
		if next != want {
			t.Fatalf("call %d: got %d, want %d (wraparound-safe addition)", i, next, want)
		}
	}
}

func TestIsDuplicateSinglecast(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(5)

	if m.IsDuplicateSinglecast(peer, 0x10) {
		t.Fatal("expected no duplicate before any sequence is stored")
	}

	m.StoreSequenceNumber(peer, 0x10)
	if !m.IsDuplicateSinglecast(peer, 0x10) {
		t.Fatal("expected duplicate after storing the same sequence number")
	}
	if m.IsDuplicateSinglecast(peer, 0x11) {
		t.Fatal("did not expect a duplicate for a different sequence number")
	}
}

func TestStoreSequenceNumberReturnsPrevious(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(5)

	_, had := m.StoreSequenceNumber(peer, 0x10)
	if had {
		t.Fatal("expected no previous value on first store")
	}

	prev, had := m.StoreSequenceNumber(peer, 0x11)
	if !had || prev != 0x10 {
		t.Fatalf("got prev=%d had=%v, want prev=0x10 had=true", prev, had)
	}
}

func TestNonceHandshakeToEstablishedSPAN(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(7)

	receiverEI, err := m.GenerateNonce(peer, true)
	if err != nil {
		t.Fatalf("GenerateNonce() error: %v", err)
	}
	if len(receiverEI) != EISize {
		t.Fatalf("len(receiverEI) = %d, want %d", len(receiverEI), EISize)
	}
	if m.SPANState(peer).Kind() != SPANStateLocalEI {
		t.Fatalf("state = %v, want LocalEI", m.SPANState(peer).Kind())
	}

	senderEI := bytes.Repeat([]byte{0x99}, EISize)
	if err := m.InitializeSPAN(peer, SecurityClassS2Authenticated, senderEI, receiverEI); err != nil {
		t.Fatalf("InitializeSPAN() error: %v", err)
	}
	if m.SPANState(peer).Kind() != SPANStateEstablished {
		t.Fatalf("state = %v, want Established", m.SPANState(peer).Kind())
	}

	nonce1, err := m.NextNonce(peer, false, 0)
	if err != nil {
		t.Fatalf("NextNonce() error: %v", err)
	}
	nonce2, err := m.NextNonce(peer, false, 0)
	if err != nil {
		t.Fatalf("NextNonce() error: %v", err)
	}
	if bytes.Equal(nonce1, nonce2) {
		t.Fatal("successive nonces must differ")
	}
}

func TestStoreRemoteEIResetsEstablishedSPAN(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(7)

	senderEI := bytes.Repeat([]byte{0x01}, EISize)
	receiverEI := bytes.Repeat([]byte{0x02}, EISize)
	if err := m.InitializeSPAN(peer, SecurityClassS2Authenticated, senderEI, receiverEI); err != nil {
		t.Fatalf("InitializeSPAN() error: %v", err)
	}

	m.StoreRemoteEI(peer, receiverEI)
	if m.SPANState(peer).Kind() != SPANStateRemoteEI {
		t.Fatalf("state = %v, want RemoteEI", m.SPANState(peer).Kind())
	}
}

func TestNextNonceRequiresEstablishedState(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(9)

	if _, err := m.NextNonce(peer, false, 0); err != ErrNotEstablished {
		t.Fatalf("got err=%v, want ErrNotEstablished", err)
	}
}

func TestCurrentNonceGraceWindow(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(9)

	senderEI := bytes.Repeat([]byte{0x03}, EISize)
	receiverEI := bytes.Repeat([]byte{0x04}, EISize)
	if err := m.InitializeSPAN(peer, SecurityClassS2Authenticated, senderEI, receiverEI); err != nil {
		t.Fatalf("InitializeSPAN() error: %v", err)
	}

	nonce, err := m.NextNonce(peer, true, 0x50)
	if err != nil {
		t.Fatalf("NextNonce() error: %v", err)
	}

	got, ok := m.TakeCurrentNonceIfFresh(peer, 0x51)
	if !ok {
		t.Fatal("expected the persisted nonce to still be fresh")
	}
	if !bytes.Equal(got, nonce) {
		t.Fatalf("got %x, want %x", got, nonce)
	}

	// The nonce is consumed on first take; a second call finds nothing.
	if _, ok := m.TakeCurrentNonceIfFresh(peer, 0x51); ok {
		t.Fatal("expected the pending nonce to be cleared after being taken once")
	}
}

func TestCurrentNonceRequiresSuccessorSeq(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(9)

	senderEI := bytes.Repeat([]byte{0x05}, EISize)
	receiverEI := bytes.Repeat([]byte{0x06}, EISize)
	if err := m.InitializeSPAN(peer, SecurityClassS2Authenticated, senderEI, receiverEI); err != nil {
		t.Fatalf("InitializeSPAN() error: %v", err)
	}

	if _, err := m.NextNonce(peer, true, 0x80); err != nil {
		t.Fatalf("NextNonce() error: %v", err)
	}
	if _, ok := m.TakeCurrentNonceIfFresh(peer, 0x82); ok {
		t.Fatal("expected seq=0x82 to be rejected: not the successor of 0x80")
	}
}

func TestDeleteNonceResetsSequenceMemory(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(3)

	m.StoreSequenceNumber(peer, 0x50)
	m.DeleteNonce(peer)

	if m.IsDuplicateSinglecast(peer, 0x50) {
		t.Fatal("expected sequence memory to be cleared by DeleteNonce")
	}
	if m.SPANState(peer).Kind() != SPANStateNone {
		t.Fatalf("state = %v, want None", m.SPANState(peer).Kind())
	}
}

func TestGetKeysForNodeUnknownPeer(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.GetKeysForNode(NodeID(99)); err != ErrNoKeysForClass {
		t.Fatalf("got err=%v, want ErrNoKeysForClass", err)
	}
}

func TestGetKeysForNodeAfterGrant(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(4)

	m.SetGrantedClass(peer, SecurityClassS2Authenticated, true)
	keySet, err := m.GetKeysForNode(peer)
	if err != nil {
		t.Fatalf("GetKeysForNode() error: %v", err)
	}
	want, _ := m.GetKeysForSecurityClass(SecurityClassS2Authenticated)
	if keySet != want {
		t.Fatal("GetKeysForNode returned a different key set than GetKeysForSecurityClass")
	}
}

func TestSetGrantedClassNotGranted(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(4)

	m.SetGrantedClass(peer, SecurityClassS2Unauthenticated, false)
	if !m.IsKnownNotGranted(peer, SecurityClassS2Unauthenticated) {
		t.Fatal("expected class to be recorded as not granted")
	}

	m.SetGrantedClass(peer, SecurityClassS2Unauthenticated, true)
	if m.IsKnownNotGranted(peer, SecurityClassS2Unauthenticated) {
		t.Fatal("granting a class must clear its not-granted record")
	}
}

func TestInitializeTempSPAN(t *testing.T) {
	m := newTestManager(t)
	const peer = NodeID(12)

	senderEI := bytes.Repeat([]byte{0x07}, EISize)
	receiverEI := bytes.Repeat([]byte{0x08}, EISize)
	if err := m.InitializeTempSPAN(peer, senderEI, receiverEI); err != nil {
		t.Fatalf("InitializeTempSPAN() error: %v", err)
	}
	if m.TempSPANState(peer).Kind() != SPANStateEstablished {
		t.Fatalf("temp state = %v, want Established", m.TempSPANState(peer).Kind())
	}

	class, ok := m.TempSPANState(peer).Class()
	if !ok || class != SecurityClassTemporary {
		t.Fatalf("class = %v (ok=%v), want Temporary", class, ok)
	}

	if _, err := m.NextTempNonce(peer, false, 0); err != nil {
		t.Fatalf("NextTempNonce() error: %v", err)
	}
}

