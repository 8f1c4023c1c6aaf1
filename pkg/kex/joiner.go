package kex

import (
	"errors"

	zwcrypto "github.com/go-zwave/s2/pkg/crypto"
	"github.com/go-zwave/s2/pkg/securemgr"
)

// ErrUnexpectedState is returned when a Handle* method is called out of
// sequence for the bootstrap's current state.
var ErrUnexpectedState = errors.New("kex: message received out of sequence")

// JoinerState tracks the joining node's position in the bootstrap
// dialog of spec.md §4.6.
type JoinerState int

const (
	JoinerStateIdle JoinerState = iota
	JoinerStateAwaitingKEXSet
	JoinerStateAwaitingControllerPublicKey
	JoinerStateAwaitingEchoedKEXSet
	JoinerStateGrantingKeys
	JoinerStateDone
	JoinerStateFailed
)

// Joiner drives the joining-node side of the KEX bootstrap (spec.md
// §4.6). Its methods are called synchronously, one per inbound message,
// mirroring the single-threaded cooperative model of spec.md §5 — there
// is no internal goroutine or channel.
type Joiner struct {
	mgr          *securemgr.Manager
	controller   securemgr.NodeID
	capabilities KEXReportSet

	sentReport     KEXReportSet
	keyPair        *zwcrypto.Curve25519KeyPair
	pendingClasses []securemgr.SecurityClass
	classIndex     int
	currentGrant   securemgr.SecurityClass

	state JoinerState
}

// NewJoiner constructs a Joiner advertising capabilities to controller.
func NewJoiner(mgr *securemgr.Manager, controller securemgr.NodeID, capabilities KEXReportSet) *Joiner {
	return &Joiner{mgr: mgr, controller: controller, capabilities: capabilities, state: JoinerStateIdle}
}

// State reports the joiner's current position in the dialog.
func (j *Joiner) State() JoinerState { return j.state }

// HandleKEXGet answers the controller's capability query.
func (j *Joiner) HandleKEXGet() (KEXReportSet, error) {
	if j.state != JoinerStateIdle {
		return KEXReportSet{}, ErrUnexpectedState
	}
	j.sentReport = j.capabilities
	j.state = JoinerStateAwaitingKEXSet
	return j.sentReport, nil
}

// HandleKEXSet processes the controller's scheme/profile/class
// selection and returns this node's PublicKeyReport to send.
func (j *Joiner) HandleKEXSet(set KEXReportSet) (PublicKeyReport, error) {
	if j.state != JoinerStateAwaitingKEXSet || set.Echo {
		return PublicKeyReport{}, ErrUnexpectedState
	}

	keyPair, err := zwcrypto.GenerateCurve25519KeyPair()
	if err != nil {
		return PublicKeyReport{}, err
	}
	j.keyPair = keyPair
	j.pendingClasses = set.Classes()
	j.state = JoinerStateAwaitingControllerPublicKey

	return PublicKeyReport{IncludingNode: true, PublicKey: keyPair.PublicKey()}, nil
}

// HandlePublicKeyReport consumes the controller's public key, completes
// ECDH, and installs the temporary network key and SPAN. It sends
// nothing itself: the joiner then waits for the controller's echoed
// KEXSet (HandleEchoedKEXSet).
func (j *Joiner) HandlePublicKeyReport(peer PublicKeyReport) error {
	if j.state != JoinerStateAwaitingControllerPublicKey || peer.IncludingNode {
		return ErrUnexpectedState
	}

	secret, err := j.keyPair.ECDH(peer.PublicKey)
	if err != nil {
		return err
	}
	if err := installTempKeyAndSPAN(j.mgr, j.controller, secret); err != nil {
		return err
	}

	j.state = JoinerStateAwaitingEchoedKEXSet
	return nil
}

// HandleEchoedKEXSet verifies the controller's echoed KEXSet matches
// what this node originally reported (spec.md §8 property 8), and
// returns the echoed KEXReport to send back, S2-encapsulated under the
// temp key.
func (j *Joiner) HandleEchoedKEXSet(echoed KEXReportSet) (KEXReportSet, error) {
	if j.state != JoinerStateAwaitingEchoedKEXSet || !echoed.Echo {
		return KEXReportSet{}, ErrUnexpectedState
	}
	if !echoed.Equal(j.sentReport) {
		j.state = JoinerStateFailed
		return KEXReportSet{}, ErrKEXEchoMismatch
	}

	j.state = JoinerStateGrantingKeys
	echo := j.sentReport
	echo.Echo = true
	return echo, nil
}

// NextNetworkKeyGet returns the NetworkKeyGet to send for the class
// currently being granted (spec.md §4.6: the joiner, not the
// controller, initiates each class's key transfer).
func (j *Joiner) NextNetworkKeyGet() (NetworkKeyGet, error) {
	if j.state != JoinerStateGrantingKeys {
		return NetworkKeyGet{}, ErrUnexpectedState
	}
	if j.classIndex >= len(j.pendingClasses) {
		return NetworkKeyGet{}, ErrUnexpectedState
	}
	return NetworkKeyGet{RequestedKey: j.pendingClasses[j.classIndex]}, nil
}

// HandleNetworkKeyReport installs the real network key the controller
// sends for the class just requested (the controller is the source of
// truth for network keys; the joiner has none of its own until this
// call). The caller must follow this with NetworkKeyVerify,
// S2-encapsulated under the key just installed.
func (j *Joiner) HandleNetworkKeyReport(report NetworkKeyReport) error {
	if j.state != JoinerStateGrantingKeys {
		return ErrUnexpectedState
	}
	if j.classIndex >= len(j.pendingClasses) || report.GrantedKey != j.pendingClasses[j.classIndex] {
		return ErrUnexpectedState
	}
	if err := j.mgr.Keys().SetNetworkKey(report.GrantedKey, report.NetworkKey); err != nil {
		return err
	}
	j.currentGrant = report.GrantedKey
	return nil
}

// HandleTransferEnd processes the controller's per-class confirmation:
// it grants the class locally and advances to the next one. If every
// pending class has now been verified, it also returns the dialog's
// final completion message for the caller to send.
func (j *Joiner) HandleTransferEnd(end TransferEnd) (next NetworkKeyGet, final *TransferEnd, err error) {
	if j.state != JoinerStateGrantingKeys || !end.KeyVerified || end.KeyRequestComplete {
		return NetworkKeyGet{}, nil, ErrUnexpectedState
	}

	j.mgr.SetGrantedClass(j.controller, j.currentGrant, true)
	j.classIndex++
	if j.classIndex >= len(j.pendingClasses) {
		j.state = JoinerStateDone
		completion := TransferEnd{KeyVerified: false, KeyRequestComplete: true}
		return NetworkKeyGet{}, &completion, nil
	}
	return NetworkKeyGet{RequestedKey: j.pendingClasses[j.classIndex]}, nil, nil
}

func containsClass(classes []securemgr.SecurityClass, c securemgr.SecurityClass) bool {
	for _, x := range classes {
		if x == c {
			return true
		}
	}
	return false
}
