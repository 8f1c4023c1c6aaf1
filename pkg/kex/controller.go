package kex

import (
	zwcrypto "github.com/go-zwave/s2/pkg/crypto"
	"github.com/go-zwave/s2/pkg/securemgr"
)

// ControllerState tracks the including node's position in the
// bootstrap dialog of spec.md §4.6.
type ControllerState int

const (
	ControllerStateIdle ControllerState = iota
	ControllerStateAwaitingKEXReport
	ControllerStateAwaitingJoinerPublicKey
	ControllerStateAwaitingEchoedKEXReport
	ControllerStateGrantingKeys
	ControllerStateDone
	ControllerStateFailed
)

// Controller drives the including-node side of the bootstrap dialog: it
// selects a scheme/profile/class set from the joiner's advertised
// capabilities, completes ECDH, and grants one network key per selected
// class (spec.md §4.6).
type Controller struct {
	mgr    *securemgr.Manager
	joiner securemgr.NodeID

	keyPair      *zwcrypto.Curve25519KeyPair
	joinerReport KEXReportSet
	sentSet      KEXReportSet
	grantOrder   []securemgr.SecurityClass
	grantIndex   int

	state ControllerState
}

// NewController constructs a Controller for the bootstrap with joiner.
func NewController(mgr *securemgr.Manager, joiner securemgr.NodeID) *Controller {
	return &Controller{mgr: mgr, joiner: joiner, state: ControllerStateIdle}
}

// State reports the controller's current position in the dialog.
func (c *Controller) State() ControllerState { return c.state }

// Start emits KEXGet and transitions to awaiting the joiner's
// capability report.
func (c *Controller) Start() error {
	if c.state != ControllerStateIdle {
		return ErrUnexpectedState
	}
	c.state = ControllerStateAwaitingKEXReport
	return nil
}

// HandleKEXReport selects one scheme, one ECDH profile and the set of
// classes to grant (grantedClasses, in the order keys will be
// transferred), and returns the KEXSet to send.
func (c *Controller) HandleKEXReport(report KEXReportSet, grantedClasses []securemgr.SecurityClass) (KEXReportSet, error) {
	if c.state != ControllerStateAwaitingKEXReport || report.Echo {
		return KEXReportSet{}, ErrUnexpectedState
	}
	if report.Schemes&KEXScheme1 == 0 {
		return KEXReportSet{}, ErrPayloadInvalid
	}
	if report.Profiles&ECDHProfileCurve25519 == 0 {
		return KEXReportSet{}, ErrPayloadInvalid
	}

	c.joinerReport = report
	c.grantOrder = append([]securemgr.SecurityClass(nil), grantedClasses...)
	c.sentSet = KEXReportSet{
		Schemes:    KEXScheme1,
		Profiles:   ECDHProfileCurve25519,
		ClassesRaw: classesToBitmask(grantedClasses),
	}
	c.state = ControllerStateAwaitingJoinerPublicKey
	return c.sentSet, nil
}

// HandleJoinerPublicKey generates this node's own ECDH keypair,
// completes the agreement, installs the temp key/SPAN, and returns the
// PublicKeyReport to send.
func (c *Controller) HandleJoinerPublicKey(peer PublicKeyReport) (PublicKeyReport, error) {
	if c.state != ControllerStateAwaitingJoinerPublicKey || !peer.IncludingNode {
		return PublicKeyReport{}, ErrUnexpectedState
	}

	keyPair, err := zwcrypto.GenerateCurve25519KeyPair()
	if err != nil {
		return PublicKeyReport{}, err
	}
	c.keyPair = keyPair

	secret, err := keyPair.ECDH(peer.PublicKey)
	if err != nil {
		return PublicKeyReport{}, err
	}
	if err := installTempKeyAndSPAN(c.mgr, c.joiner, secret); err != nil {
		return PublicKeyReport{}, err
	}

	c.state = ControllerStateAwaitingEchoedKEXReport
	return PublicKeyReport{IncludingNode: false, PublicKey: keyPair.PublicKey()}, nil
}

// EchoedKEXSet returns the KEXSet to send S2-encapsulated under the
// temp key, echoing the earlier selection (spec.md §4.6).
func (c *Controller) EchoedKEXSet() (KEXReportSet, error) {
	if c.state != ControllerStateAwaitingEchoedKEXReport {
		return KEXReportSet{}, ErrUnexpectedState
	}
	echo := c.sentSet
	echo.Echo = true
	return echo, nil
}

// HandleEchoedKEXReport verifies the joiner's echoed KEXReport matches
// its original report (spec.md §8 property 8), and on success begins
// the per-class network key transfer loop by waiting for the joiner's
// first NetworkKeyGet (spec.md §4.6: the joiner initiates each class's
// key transfer, not the controller).
func (c *Controller) HandleEchoedKEXReport(echoed KEXReportSet) error {
	if c.state != ControllerStateAwaitingEchoedKEXReport || !echoed.Echo {
		return ErrUnexpectedState
	}
	if !echoed.Equal(c.joinerReport) {
		c.state = ControllerStateFailed
		return ErrKEXEchoMismatch
	}
	if len(c.grantOrder) == 0 {
		c.state = ControllerStateDone
		return ErrUnexpectedState
	}

	c.state = ControllerStateGrantingKeys
	c.grantIndex = 0
	return nil
}

// HandleNetworkKeyGet validates that the requested class matches the
// one currently being granted and responds with that class's real
// network key, read from this controller's own key table (the
// controller is the source of truth for network keys; it never accepts
// key material from the joiner).
func (c *Controller) HandleNetworkKeyGet(get NetworkKeyGet) (NetworkKeyReport, error) {
	if c.state != ControllerStateGrantingKeys {
		return NetworkKeyReport{}, ErrUnexpectedState
	}
	if c.grantIndex >= len(c.grantOrder) || get.RequestedKey != c.grantOrder[c.grantIndex] {
		return NetworkKeyReport{}, ErrUnexpectedState
	}
	keySet, err := c.mgr.GetKeysForSecurityClass(get.RequestedKey)
	if err != nil {
		return NetworkKeyReport{}, err
	}
	return NetworkKeyReport{GrantedKey: get.RequestedKey, NetworkKey: append([]byte(nil), keySet.PNK[:]...)}, nil
}

// HandleNetworkKeyVerify processes the joiner's NetworkKeyVerify for
// the class just transferred. Receiving it at all — decrypted
// successfully under the key just sent — is the proof of possession;
// this grants the class, advances to the next one, and returns the
// per-class TransferEnd to send.
func (c *Controller) HandleNetworkKeyVerify() (TransferEnd, error) {
	if c.state != ControllerStateGrantingKeys {
		return TransferEnd{}, ErrUnexpectedState
	}
	c.mgr.SetGrantedClass(c.joiner, c.grantOrder[c.grantIndex], true)
	c.grantIndex++
	return TransferEnd{KeyVerified: true, KeyRequestComplete: false}, nil
}

// HandleTransferEnd processes the joiner's final completion message,
// sent once every granted class has been verified.
func (c *Controller) HandleTransferEnd(end TransferEnd) error {
	if c.state != ControllerStateGrantingKeys || !end.KeyRequestComplete {
		return ErrUnexpectedState
	}
	c.state = ControllerStateDone
	return nil
}
