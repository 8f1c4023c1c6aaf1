package securemgr

import (
	"bytes"
	"testing"
	"time"
)

func TestSPANStateKindTransitions(t *testing.T) {
	none := newNoneState()
	if none.Kind() != SPANStateNone {
		t.Fatalf("Kind() = %v, want None", none.Kind())
	}

	local := newLocalEIState(bytes.Repeat([]byte{0x01}, EISize))
	if local.Kind() != SPANStateLocalEI {
		t.Fatalf("Kind() = %v, want LocalEI", local.Kind())
	}
	if _, ok := local.ReceiverEI(); !ok {
		t.Fatal("expected ReceiverEI to be set for LocalEI")
	}

	remote := newRemoteEIState(bytes.Repeat([]byte{0x02}, EISize))
	if remote.Kind() != SPANStateRemoteEI {
		t.Fatalf("Kind() = %v, want RemoteEI", remote.Kind())
	}

	if _, ok := none.ReceiverEI(); ok {
		t.Fatal("None state must not expose a receiver EI")
	}
}

func TestEstablishedSPANProducesDistinctNonceStreams(t *testing.T) {
	senderEI := bytes.Repeat([]byte{0xAA}, EISize)
	receiverEI := bytes.Repeat([]byte{0xBB}, EISize)

	a, err := newEstablishedState(SecurityClassS2Authenticated, senderEI, receiverEI, []byte("classA"))
	if err != nil {
		t.Fatalf("newEstablishedState() error: %v", err)
	}
	b, err := newEstablishedState(SecurityClassS2AccessControl, senderEI, receiverEI, []byte("classB"))
	if err != nil {
		t.Fatalf("newEstablishedState() error: %v", err)
	}

	nonceA, err := a.nextNonce(false, GraceWindow, 0)
	if err != nil {
		t.Fatalf("nextNonce() error: %v", err)
	}
	nonceB, err := b.nextNonce(false, GraceWindow, 0)
	if err != nil {
		t.Fatalf("nextNonce() error: %v", err)
	}

	if bytes.Equal(nonceA, nonceB) {
		t.Fatal("different personalization strings must produce different nonce streams")
	}
}

func TestTakeCurrentIfFreshExpiry(t *testing.T) {
	senderEI := bytes.Repeat([]byte{0xCC}, EISize)
	receiverEI := bytes.Repeat([]byte{0xDD}, EISize)
	state, err := newEstablishedState(SecurityClassS2Authenticated, senderEI, receiverEI, []byte("p"))
	if err != nil {
		t.Fatalf("newEstablishedState() error: %v", err)
	}

	if _, err := state.nextNonce(true, GraceWindow, 0x80); err != nil {
		t.Fatalf("nextNonce() error: %v", err)
	}

	// Taking it well within the window, at the successor sequence
	// number, succeeds.
	if _, ok := state.takeCurrentIfFresh(time.Now(), 0x81); !ok {
		t.Fatal("expected the pending nonce to be fresh immediately after nextNonce")
	}

	if _, err := state.nextNonce(true, GraceWindow, 0x80); err != nil {
		t.Fatalf("nextNonce() error: %v", err)
	}
	// Taking it after the window has elapsed fails and still clears it.
	future := time.Now().Add(GraceWindow * 2)
	if _, ok := state.takeCurrentIfFresh(future, 0x81); ok {
		t.Fatal("expected the pending nonce to be expired")
	}
	if _, ok := state.takeCurrentIfFresh(future, 0x81); ok {
		t.Fatal("pending nonce must be cleared even when expired")
	}
}

func TestTakeCurrentIfFreshRequiresSuccessorSeq(t *testing.T) {
	senderEI := bytes.Repeat([]byte{0xEE}, EISize)
	receiverEI := bytes.Repeat([]byte{0xFF}, EISize)
	state, err := newEstablishedState(SecurityClassS2Authenticated, senderEI, receiverEI, []byte("p"))
	if err != nil {
		t.Fatalf("newEstablishedState() error: %v", err)
	}

	// S-4: currentSPAN recorded at seq=0x80. seq=0x82 is not its
	// successor, so the branch must be skipped (and the pending nonce
	// still cleared).
	if _, err := state.nextNonce(true, GraceWindow, 0x80); err != nil {
		t.Fatalf("nextNonce() error: %v", err)
	}
	if _, ok := state.takeCurrentIfFresh(time.Now(), 0x82); ok {
		t.Fatal("expected seq=0x82 to be rejected: not the successor of 0x80")
	}
	if state.current != nil {
		t.Fatal("expected the pending nonce to be cleared even when seq does not match")
	}
}
