package s2host

import (
	"context"
	"errors"
	"sync"

	"github.com/go-zwave/s2/pkg/securemgr"
)

// ErrNoResponse is returned by MockHost.SendCommand when the peer drops
// the frame or its handler returns no reply before ctx is done.
var ErrNoResponse = errors.New("s2host: no response from peer")

// Handler answers an inbound frame from peer, returning the reply frame
// to send back (nil for no reply).
type Handler func(peer securemgr.NodeID, payload []byte) []byte

// MockHost is an in-memory Host for tests and cmd/s2demo: SendCommand
// calls the destination MockHost's registered Handler directly, with no
// real transport, grounded on pkg/exchange/testpair.go's in-process
// paired-manager test harness.
type MockHost struct {
	ownNodeID securemgr.NodeID
	homeID    uint32
	mgr       *securemgr.Manager

	mu      sync.RWMutex
	peers   map[securemgr.NodeID]*MockHost
	classes map[securemgr.NodeID]securemgr.SecurityClass

	handler Handler

	// DropNext, when > 0, causes that many upcoming SendCommand calls to
	// return ErrNoResponse instead of reaching the peer, simulating lost
	// frames for retry-policy tests.
	DropNext int
}

// NewMockHost constructs a MockHost for ownNodeID on homeID.
func NewMockHost(ownNodeID securemgr.NodeID, homeID uint32) *MockHost {
	return &MockHost{
		ownNodeID: ownNodeID,
		homeID:    homeID,
		mgr:       securemgr.NewManager(),
		peers:     make(map[securemgr.NodeID]*MockHost),
		classes:   make(map[securemgr.NodeID]securemgr.SecurityClass),
	}
}

// Connect registers peer as reachable at its NodeID and vice versa.
func (h *MockHost) Connect(peer *MockHost) {
	h.mu.Lock()
	h.peers[peer.ownNodeID] = peer
	h.mu.Unlock()

	peer.mu.Lock()
	peer.peers[h.ownNodeID] = h
	peer.mu.Unlock()
}

// SetHandler installs the function that answers inbound frames.
func (h *MockHost) SetHandler(fn Handler) { h.handler = fn }

// SendCommand implements Host.
func (h *MockHost) SendCommand(ctx context.Context, peer securemgr.NodeID, payload []byte, opts SendOptions) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if h.DropNext > 0 {
		h.DropNext--
		return nil, ErrNoResponse
	}

	h.mu.RLock()
	dst, ok := h.peers[peer]
	h.mu.RUnlock()
	if !ok || dst.handler == nil {
		return nil, ErrNoResponse
	}

	reply := dst.handler(h.ownNodeID, payload)
	if reply == nil {
		return nil, ErrNoResponse
	}
	return reply, nil
}

// OwnNodeID implements Host.
func (h *MockHost) OwnNodeID() securemgr.NodeID { return h.ownNodeID }

// HomeID implements Host.
func (h *MockHost) HomeID() uint32 { return h.homeID }

// GetHighestSecurityClass implements Host.
func (h *MockHost) GetHighestSecurityClass(peer securemgr.NodeID) (securemgr.SecurityClass, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	class, ok := h.classes[peer]
	return class, ok
}

// HasSecurityClass implements Host.
func (h *MockHost) HasSecurityClass(peer securemgr.NodeID, class securemgr.SecurityClass) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	got, ok := h.classes[peer]
	return ok && got == class
}

// SetSecurityClass implements Host.
func (h *MockHost) SetSecurityClass(peer securemgr.NodeID, class securemgr.SecurityClass, granted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if granted {
		h.classes[peer] = class
	} else if h.classes[peer] == class {
		delete(h.classes, peer)
	}
}

// SecurityManager implements Host.
func (h *MockHost) SecurityManager() *securemgr.Manager { return h.mgr }
