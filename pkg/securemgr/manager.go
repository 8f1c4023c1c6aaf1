package securemgr

import (
	"crypto/rand"
	"sync"
	"time"

	zwcrypto "github.com/go-zwave/s2/pkg/crypto"
	"github.com/pion/logging"
)

// NodeID is a Z-Wave node identifier, carried as a single byte
// everywhere in the wire formats this module touches (spec.md §4.3 AAD
// layout).
type NodeID = byte

// DecryptAttempts is DECRYPT_ATTEMPTS (spec.md §4.3 RX step 6): the
// maximum number of forward nonce-advance attempts tried before giving
// up on an established SPAN.
const DecryptAttempts = 5

// GraceWindow is the ~500ms grace period during which the "previous
// SPAN" nonce remains acceptable for the immediately-next sequence
// number (spec.md §5, "Timeouts").
const GraceWindow = 500 * time.Millisecond

type peerState struct {
	span         *SPANState
	tempSPAN     *SPANState
	lastReceived *byte // last accepted incoming sequence number
	nextSeq      *byte // lazily materialized outgoing sequence counter
	grantedClass SecurityClass
	hasGrant     bool
	notGranted   map[SecurityClass]bool
}

func newPeerState() *peerState {
	return &peerState{
		span:       newNoneState(),
		tempSPAN:   newNoneState(),
		notGranted: make(map[SecurityClass]bool),
	}
}

// Manager is SecurityManager2 (spec.md §4.2, C4): per-peer SPAN state,
// sequence numbers, and the key tables, all mutated only from the
// single cooperative context the driver runs on (spec.md §5) — the
// mutex here guards against incidental concurrent access, not against
// genuine cross-goroutine contention.
type Manager struct {
	mu    sync.RWMutex
	peers map[NodeID]*peerState
	keys  *KeyTable
	log   logging.LeveledLogger
}

// NewManager constructs an empty SecurityManager2. Network keys are
// added afterward via Keys().SetNetworkKey, mirroring the host loading
// keys once at startup (spec.md §5).
func NewManager() *Manager {
	return &Manager{
		peers: make(map[NodeID]*peerState),
		keys:  NewKeyTable(),
	}
}

// SetLogger attaches a leveled logger; class-grant transitions are
// logged at Info, nothing is logged if this is never called.
func (m *Manager) SetLogger(log logging.LeveledLogger) {
	m.log = log
}

// Logger returns the attached logger, or nil if SetLogger was never
// called.
func (m *Manager) Logger() logging.LeveledLogger {
	return m.log
}

// Keys returns the key table backing this manager.
func (m *Manager) Keys() *KeyTable { return m.keys }

func (m *Manager) peer(id NodeID) *peerState {
	p, ok := m.peers[id]
	if !ok {
		p = newPeerState()
		m.peers[id] = p
	}
	return p
}

// NextSequenceNumber returns successive u8 sequence numbers for peer,
// starting at a random value per peer on first call: calls produce
// (s, s+1 mod 256, s+2 mod 256, …) (spec.md §4.2, §8 property 2).
func (m *Manager) NextSequenceNumber(peer NodeID) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.peer(peer)
	if p.nextSeq == nil {
		start, err := randomByte()
		if err != nil {
			return 0, err
		}
		p.nextSeq = &start
		return start, nil
	}

	next := *p.nextSeq + 1
	p.nextSeq = &next
	return next, nil
}

func randomByte() (byte, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// IsDuplicateSinglecast reports whether seq equals the last accepted
// incoming sequence number for peer.
func (m *Manager) IsDuplicateSinglecast(peer NodeID, seq byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[peer]
	if !ok || p.lastReceived == nil {
		return false
	}
	return *p.lastReceived == seq
}

// StoreSequenceNumber sets last_received[peer] to seq, returning the
// previous value if one was recorded.
func (m *Manager) StoreSequenceNumber(peer NodeID, seq byte) (previous byte, hadPrevious bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.peer(peer)
	if p.lastReceived != nil {
		previous = *p.lastReceived
		hadPrevious = true
	}
	v := seq
	p.lastReceived = &v
	return previous, hadPrevious
}

// GenerateNonce produces a fresh 16-byte Entropy Input from a CSPRNG.
// If trackPeer is true, it is recorded as peer's LocalEI{receiverEI}.
func (m *Manager) GenerateNonce(peer NodeID, trackPeer bool) ([]byte, error) {
	ei := make([]byte, EISize)
	if _, err := rand.Read(ei); err != nil {
		return nil, err
	}

	if trackPeer {
		m.mu.Lock()
		m.peer(peer).span = newLocalEIState(ei)
		m.mu.Unlock()
	}

	return ei, nil
}

// StoreRemoteEI sets state to RemoteEI{receiverEI: ei}, resetting any
// established SPAN (spec.md §4.2).
func (m *Manager) StoreRemoteEI(peer NodeID, ei []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer(peer).span = newRemoteEIState(ei)
}

// InitializeSPAN constructs the CTR_DRBG from (senderEI||receiverEI,
// personalizationString(class)) and transitions state to Established.
func (m *Manager) InitializeSPAN(peer NodeID, class SecurityClass, senderEI, receiverEI []byte) error {
	keySet, err := m.keys.Get(class)
	if err != nil {
		return err
	}
	state, err := newEstablishedState(class, senderEI, receiverEI, keySet.PersonalizationString[:])
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer(peer).span = state
	return nil
}

// InitializeTempSPAN is InitializeSPAN using the temporary key schedule
// (spec.md §4.2), stored in the parallel temp-SPAN slot.
func (m *Manager) InitializeTempSPAN(peer NodeID, senderEI, receiverEI []byte) error {
	keySet, err := m.keys.Get(SecurityClassTemporary)
	if err != nil {
		return err
	}
	state, err := newEstablishedState(SecurityClassTemporary, senderEI, receiverEI, keySet.PersonalizationString[:])
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer(peer).tempSPAN = state
	return nil
}

// NextNonce advances the peer's established rng by 16 bytes. If
// persistPrevious, the returned nonce is recorded as the current
// "previous SPAN" candidate with a GraceWindow expiry, tagged with seq
// (the sequence number this nonce is being issued for).
func (m *Manager) NextNonce(peer NodeID, persistPrevious bool, seq byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer(peer).span.nextNonce(persistPrevious, GraceWindow, seq)
}

// NextTempNonce is NextNonce for the temporary SPAN slot.
func (m *Manager) NextTempNonce(peer NodeID, persistPrevious bool, seq byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer(peer).tempSPAN.nextNonce(persistPrevious, GraceWindow, seq)
}

// TakeCurrentNonceIfFresh returns and clears the peer's pending
// "previous SPAN" nonce if it is still within its grace window and seq
// is exactly the successor of the sequence number it was recorded at
// (spec.md §4.3 RX step 6, S-4).
func (m *Manager) TakeCurrentNonceIfFresh(peer NodeID, seq byte) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer(peer).span.takeCurrentIfFresh(time.Now(), seq)
}

// SPANState returns the peer's current SPAN state (direct access, for
// rollback on a failed trial-decrypt per spec.md §4.2 `setSPANState`).
func (m *Manager) SPANState(peer NodeID) *SPANState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peer(peer).span
}

// SetSPANState directly installs state for peer.
func (m *Manager) SetSPANState(peer NodeID, state *SPANState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer(peer).span = state
}

// TempSPANState returns the peer's current temporary SPAN state.
func (m *Manager) TempSPANState(peer NodeID) *SPANState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peer(peer).tempSPAN
}

// SetTempSPANState directly installs the temporary SPAN state for peer.
func (m *Manager) SetTempSPANState(peer NodeID, state *SPANState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer(peer).tempSPAN = state
}

// SetLocalEI directly installs the LocalEI{receiverEI} state for peer,
// used to rewind between class-discovery trial decrypts (spec.md §4.3
// RX step 6: each candidate class gets its own InitializeSPAN attempt
// starting from the same receiverEI).
func (m *Manager) SetLocalEI(peer NodeID, receiverEI []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer(peer).span = newLocalEIState(receiverEI)
}

// DeleteNonce resets peer's SPAN state to None and clears its
// sequence-number memory (spec.md §3, "Lifecycle").
func (m *Manager) DeleteNonce(peer NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.peer(peer)
	p.span = newNoneState()
	p.lastReceived = nil
}

// GetKeysForNode looks up the security class granted to peer and
// returns that class's key set. Returns ErrNoKeysForClass if peer has
// no granted class.
func (m *Manager) GetKeysForNode(peer NodeID) (*zwcrypto.NetworkKeySet, error) {
	m.mu.RLock()
	p, ok := m.peers[peer]
	m.mu.RUnlock()
	if !ok || !p.hasGrant {
		return nil, ErrNoKeysForClass
	}
	return m.keys.Get(p.grantedClass)
}

// GetKeysForSecurityClass returns the key set for class.
func (m *Manager) GetKeysForSecurityClass(class SecurityClass) (*zwcrypto.NetworkKeySet, error) {
	return m.keys.Get(class)
}

// HasKeysForSecurityClass reports whether class has a configured key
// set.
func (m *Manager) HasKeysForSecurityClass(class SecurityClass) bool {
	return m.keys.Has(class)
}

// SetGrantedClass records that peer holds class (or, if granted is
// false, that it is known NOT to hold it) — used by the interview
// driver (spec.md §4.7 steps 3-4) and the KEX bootstrap.
func (m *Manager) SetGrantedClass(peer NodeID, class SecurityClass, granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.peer(peer)
	if granted {
		p.grantedClass = class
		p.hasGrant = true
		delete(p.notGranted, class)
		if m.log != nil {
			m.log.Infof("peer %d granted security class %s", peer, class)
		}
		return
	}
	p.notGranted[class] = true
	if m.log != nil {
		m.log.Debugf("peer %d not granted security class %s", peer, class)
	}
}

// GrantedClass returns the security class known to be granted to peer.
func (m *Manager) GrantedClass(peer NodeID) (SecurityClass, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[peer]
	if !ok || !p.hasGrant {
		return SecurityClassNone, false
	}
	return p.grantedClass, true
}

// IsKnownNotGranted reports whether peer has been recorded as lacking
// class.
func (m *Manager) IsKnownNotGranted(peer NodeID, class SecurityClass) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[peer]
	if !ok {
		return false
	}
	return p.notGranted[class]
}
