// Package s2host defines the transport/host collaborator interface this
// module consumes (spec.md §6) and, for tests and cmd/s2demo, an
// in-memory mock implementation wiring two hosts directly together.
package s2host

import (
	"context"

	"github.com/go-zwave/s2/pkg/securemgr"
)

// TransmitOptions is a bitmask of delivery properties requested for one
// SendCommand call (spec.md §6).
type TransmitOptions int

const (
	TransmitOptionACK TransmitOptions = 1 << iota
	TransmitOptionAutoRoute
)

// Priority selects a send's queue priority (spec.md §6).
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityNonce
	PriorityNodeQuery
)

// SendOptions carries the per-send policy spec.md §6 lists as part of
// the Host contract.
type SendOptions struct {
	TransmitOptions              TransmitOptions
	MaxSendAttempts              int
	Priority                     Priority
	ChangeNodeStatusOnMissingACK bool
}

// DefaultNonceSendOptions matches spec.md §4.4: NonceReports go out
// with at most one attempt, elevated priority, and no node-status
// change on a missing ack.
func DefaultNonceSendOptions() SendOptions {
	return SendOptions{
		TransmitOptions:              TransmitOptionACK,
		MaxSendAttempts:              1,
		Priority:                     PriorityNonce,
		ChangeNodeStatusOnMissingACK: false,
	}
}

// Host is the transport/node-table collaborator spec.md §6 requires:
// sending a raw command frame to a peer and awaiting its reply is the
// only suspension point besides the interview retry's wait(ms) (spec.md
// §5). Implementations block the calling goroutine for the duration of
// the exchange, which is the idiomatic Go rendition of that single
// suspension point — there is no cooperative scheduler to yield to.
type Host interface {
	// SendCommand transmits payload to peer and returns the peer's
	// reply frame. ctx bounds how long the call waits for a reply;
	// ErrNoResponse is returned on timeout, distinguishing "no answer"
	// from a transport-level failure.
	SendCommand(ctx context.Context, peer securemgr.NodeID, payload []byte, opts SendOptions) ([]byte, error)

	OwnNodeID() securemgr.NodeID
	HomeID() uint32

	GetHighestSecurityClass(peer securemgr.NodeID) (securemgr.SecurityClass, bool)
	HasSecurityClass(peer securemgr.NodeID, class securemgr.SecurityClass) bool
	SetSecurityClass(peer securemgr.NodeID, class securemgr.SecurityClass, granted bool)

	SecurityManager() *securemgr.Manager
}
