package securemgr

import (
	"errors"
	"time"

	zwcrypto "github.com/go-zwave/s2/pkg/crypto"
)

// EISize is the length of an Entropy Input contribution (spec.md
// GLOSSARY, "EI").
const EISize = 16

// SPANStateKind discriminates the SPANState sum type (spec.md §3).
type SPANStateKind int

const (
	// SPANStateNone: no shared state with the peer.
	SPANStateNone SPANStateKind = iota
	// SPANStateLocalEI: we generated a receiverEI and sent it; waiting
	// for the peer's senderEI.
	SPANStateLocalEI
	// SPANStateRemoteEI: the peer sent us its receiverEI; we must send
	// ours to establish.
	SPANStateRemoteEI
	// SPANStateEstablished: both EIs are known and rng produces the
	// nonce stream.
	SPANStateEstablished
)

// ErrNotEstablished is returned by operations that require an
// established SPAN (NextNonce) when the state is anything else — a
// programmer error per spec.md §4.2.
var ErrNotEstablished = errors.New("securemgr: SPAN is not established for this peer")

// pendingNonce is the "previous SPAN nonce" kept for one grace window
// (spec.md §3, "currentSPAN"). previousSeq is the sequence number that
// was current when the nonce was persisted; the RX path only accepts
// this nonce for the immediate successor sequence number (spec.md §4.3
// RX step 6, S-4).
type pendingNonce struct {
	nonce       []byte
	expires     time.Time
	previousSeq byte
}

// SPANState is the per-peer state machine described in spec.md §3.
// Exactly one of these variants is active at a time; an established
// state is seeded from (senderEI, receiverEI,
// personalizationString(class)). Manager keeps one permanent SPANState
// per peer (plus a separate temporary one for KEX), and sending and
// receiving both draw nonces from that same state: there are no
// separate RX and TX instances.
type SPANState struct {
	kind SPANStateKind

	// receiverEI is set in LocalEI and RemoteEI.
	receiverEI []byte

	// rng and class are set only in SPANStateEstablished.
	rng     *zwcrypto.DRBG
	class   SecurityClass
	current *pendingNonce
}

// Kind reports which variant is active.
func (s *SPANState) Kind() SPANStateKind { return s.kind }

// newNoneState constructs the zero/None variant.
func newNoneState() *SPANState {
	return &SPANState{kind: SPANStateNone}
}

// newLocalEIState constructs the LocalEI variant.
func newLocalEIState(receiverEI []byte) *SPANState {
	return &SPANState{kind: SPANStateLocalEI, receiverEI: append([]byte(nil), receiverEI...)}
}

// newRemoteEIState constructs the RemoteEI variant.
func newRemoteEIState(receiverEI []byte) *SPANState {
	return &SPANState{kind: SPANStateRemoteEI, receiverEI: append([]byte(nil), receiverEI...)}
}

// newEstablishedState constructs the established SPAN variant, deriving
// its CTR_DRBG from senderEI||receiverEI with the class's
// personalization string as domain separator.
func newEstablishedState(class SecurityClass, senderEI, receiverEI, personalization []byte) (*SPANState, error) {
	seed := append(append([]byte(nil), senderEI...), receiverEI...)
	rng, err := zwcrypto.Instantiate(seed, personalization)
	if err != nil {
		return nil, err
	}
	return &SPANState{kind: SPANStateEstablished, rng: rng, class: class}, nil
}

// ReceiverEI returns the stored receiver EI for LocalEI/RemoteEI states.
func (s *SPANState) ReceiverEI() ([]byte, bool) {
	if s.kind != SPANStateLocalEI && s.kind != SPANStateRemoteEI {
		return nil, false
	}
	return s.receiverEI, true
}

// Class returns the security class this established SPAN was derived
// for.
func (s *SPANState) Class() (SecurityClass, bool) {
	if s.kind != SPANStateEstablished {
		return SecurityClassNone, false
	}
	return s.class, true
}

// nextNonce advances rng by EISize bytes and optionally records the
// result as the "previous SPAN" acceptance window, tagged with the
// sequence number it was issued at (spec.md §4.2, `nextNonce`).
func (s *SPANState) nextNonce(persistPrevious bool, graceWindow time.Duration, seq byte) ([]byte, error) {
	if s.kind != SPANStateEstablished {
		return nil, ErrNotEstablished
	}
	nonce := s.rng.Generate(EISize)
	if persistPrevious {
		s.current = &pendingNonce{nonce: nonce, expires: time.Now().Add(graceWindow), previousSeq: seq}
	}
	return nonce, nil
}

// takeCurrentIfFresh returns the pending "previous SPAN" nonce if it is
// still within its grace window and seq is exactly the successor of
// the sequence number it was recorded at, clearing it either way
// (spec.md §4.3 RX step 6, S-4: tried once, then discarded).
func (s *SPANState) takeCurrentIfFresh(now time.Time, seq byte) ([]byte, bool) {
	if s.current == nil {
		return nil, false
	}
	nonce, expires, previousSeq := s.current.nonce, s.current.expires, s.current.previousSeq
	s.current = nil
	if now.After(expires) {
		return nil, false
	}
	if seq != previousSeq+1 {
		return nil, false
	}
	return nonce, true
}
