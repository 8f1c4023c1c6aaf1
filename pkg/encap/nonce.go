package encap

import (
	"errors"

	"github.com/go-zwave/s2/pkg/securemgr"
)

// NonceGet and NonceReport command identifiers within the Security 2
// command class (spec.md §4.4).
const (
	CommandNonceGet    = 0x01
	CommandNonceReport = 0x02
)

// NonceReport flag bits (spec.md §4.4, GLOSSARY "SOS"/"MOS").
const (
	flagSOS = 1 << 7 // sender-offering-SPAN: receiverEI follows
	flagMOS = 1 << 6 // multicast-out-of-sync
)

// ErrNonceReportNeedsAFlag is returned by EncodeNonceReport when neither
// SOS nor MOS is set: spec.md §4.4 requires at least one.
var ErrNonceReportNeedsAFlag = errors.New("encap: NonceReport requires SOS or MOS")

// NonceGet is the bare sequence-number request for a fresh receiverEI.
type NonceGet struct {
	SequenceNumber byte
}

// EncodeNonceGet serializes a NonceGet: seq.
func EncodeNonceGet(seq byte) []byte {
	return []byte{seq}
}

// DecodeNonceGet parses a NonceGet payload.
func DecodeNonceGet(data []byte) (NonceGet, error) {
	if len(data) < 1 {
		return NonceGet{}, ErrPayloadInvalid
	}
	return NonceGet{SequenceNumber: data[0]}, nil
}

// NonceReport is the reply to a NonceGet (or an unsolicited desync
// signal): seq | flags | receiverEI(16) if SOS (spec.md §4.4).
type NonceReport struct {
	SequenceNumber byte
	SOS            bool
	MOS            bool
	ReceiverEI     []byte // present iff SOS
}

// EncodeNonceReport serializes a NonceReport.
func EncodeNonceReport(r NonceReport) ([]byte, error) {
	if !r.SOS && !r.MOS {
		return nil, ErrNonceReportNeedsAFlag
	}
	if r.SOS && len(r.ReceiverEI) != securemgr.EISize {
		return nil, ErrPayloadInvalid
	}

	var flags byte
	if r.SOS {
		flags |= flagSOS
	}
	if r.MOS {
		flags |= flagMOS
	}

	out := []byte{r.SequenceNumber, flags}
	if r.SOS {
		out = append(out, r.ReceiverEI...)
	}
	return out, nil
}

// DecodeNonceReport parses a NonceReport payload.
func DecodeNonceReport(data []byte) (NonceReport, error) {
	if len(data) < 2 {
		return NonceReport{}, ErrPayloadInvalid
	}

	r := NonceReport{
		SequenceNumber: data[0],
		SOS:            data[1]&flagSOS != 0,
		MOS:            data[1]&flagMOS != 0,
	}
	if !r.SOS && !r.MOS {
		return NonceReport{}, ErrNonceReportNeedsAFlag
	}
	if r.SOS {
		if len(data) < 2+securemgr.EISize {
			return NonceReport{}, ErrPayloadInvalid
		}
		r.ReceiverEI = append([]byte(nil), data[2:2+securemgr.EISize]...)
	}
	return r, nil
}

// HandleNonceGet answers a NonceGet from peer: generates a fresh
// receiverEI, installs LocalEI state for peer, and returns the
// NonceReport to send back (spec.md §4.4, S-1).
func HandleNonceGet(mgr *securemgr.Manager, peer securemgr.NodeID, outSeq byte) (NonceReport, error) {
	receiverEI, err := mgr.GenerateNonce(peer, true)
	if err != nil {
		return NonceReport{}, err
	}
	return NonceReport{SequenceNumber: outSeq, SOS: true, ReceiverEI: receiverEI}, nil
}

// HandleNonceReport applies an incoming NonceReport's SOS receiverEI,
// transitioning the peer's SPAN state to RemoteEI (spec.md §4.4). A
// MOS-only report carries no state transition of its own; the caller
// decides how to react to a multicast desync signal.
func HandleNonceReport(mgr *securemgr.Manager, peer securemgr.NodeID, r NonceReport) {
	if r.SOS {
		mgr.StoreRemoteEI(peer, r.ReceiverEI)
	}
}
