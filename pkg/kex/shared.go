package kex

import (
	"errors"

	zwcrypto "github.com/go-zwave/s2/pkg/crypto"
	"github.com/go-zwave/s2/pkg/securemgr"
)

// ErrKEXEchoMismatch is returned when an echoed KEXReport/KEXSet
// differs from the original (spec.md §8 property 8); the caller must
// respond with KEXFail(Auth).
var ErrKEXEchoMismatch = errors.New("kex: echoed record does not match the original")

// installTempKeyAndSPAN derives the KEX temporary network key and SPAN
// seed from the completed ECDH exchange and installs both into mgr for
// peer, the temp SPAN already established (spec.md §4.6). pkg/encap can
// send under it with TXParams.UseTemp; encap.Decode does not consult an
// established temp SPAN, so frames encrypted under it are not
// decrypted through pkg/encap.
func installTempKeyAndSPAN(mgr *securemgr.Manager, peer securemgr.NodeID, sharedSecret []byte) error {
	tempPNK, err := zwcrypto.DeriveKEXTempPNK(sharedSecret)
	if err != nil {
		return err
	}
	if err := mgr.Keys().SetNetworkKey(securemgr.SecurityClassTemporary, tempPNK); err != nil {
		return err
	}

	seed, err := zwcrypto.DeriveKEXTempSPANSeed(sharedSecret)
	if err != nil {
		return err
	}
	senderEI, receiverEI := seed[:securemgr.EISize], seed[securemgr.EISize:]
	return mgr.InitializeTempSPAN(peer, senderEI, receiverEI)
}
