package encap

import (
	"encoding/binary"

	zwcrypto "github.com/go-zwave/s2/pkg/crypto"
	"github.com/go-zwave/s2/pkg/extension"
	"github.com/go-zwave/s2/pkg/securemgr"
)

// Flags byte bits (spec.md §4.3 wire format, byte [1]).
const (
	flagHasUnencryptedExtensions = 1 << 0
	flagHasEncryptedExtensions   = 1 << 1
)

// Envelope is the parsed result of a decoded S2 encapsulation (spec.md
// §3, "Encapsulated command structure").
type Envelope struct {
	SequenceNumber        byte
	UnencryptedExtensions []extension.Extension
	EncryptedExtensions   []extension.Extension
	Inner                 []byte // serialized inner command, nil if absent
	Class                 securemgr.SecurityClass
}

// TXParams carries the addressing and policy inputs TX encryption needs
// beyond what the SecurityManager2 tracks per peer (spec.md §4.3 TX
// steps 1-2, §6 Host interface).
type TXParams struct {
	OwnNodeID   securemgr.NodeID
	PeerNodeID  securemgr.NodeID
	HomeID      uint32
	MGRPGroupID *byte // non-nil selects a multicast destination

	// UseTemp routes the send through the temporary SPAN/key, for the
	// KEX bootstrap dialog (spec.md §4.6) which runs before a permanent
	// class has been granted.
	UseTemp bool

	// Class selects the security class for a first-time SPAN
	// establishment (e.g. a server sending to a node mid-interview).
	// When it is not an S2 class, the peer's granted class recorded in
	// the Manager is used instead.
	Class securemgr.SecurityClass

	UnencryptedExtensions []extension.Extension
	EncryptedExtensions   []extension.Extension
	Inner                 []byte
}

// isKnownUnencryptedExtension restricts the unencrypted extension list
// to SPAN/MGRP (spec.md §4.1): the only extension types ever carried
// outside the ciphertext. An unknown critical extension here must fail
// parsing rather than pass silently.
func isKnownUnencryptedExtension(t extension.Type) bool {
	return t == extension.TypeSPAN || t == extension.TypeMGRP
}

// isKnownEncryptedExtension restricts the encrypted extension list to
// MPAN (spec.md §4.1), the only extension type ever carried inside the
// ciphertext.
func isKnownEncryptedExtension(t extension.Type) bool {
	return t == extension.TypeMPAN
}

func destinationID(mgrp *byte, fallback securemgr.NodeID) byte {
	if mgrp != nil {
		return *mgrp
	}
	return fallback
}

// buildAAD constructs the authentication data per spec.md §4.3: an
// 8-byte prefix (sendingNodeId, destinationId, homeId, messageLength)
// followed by the unencrypted-payload prefix exactly as it appears on
// the wire.
func buildAAD(sendingNodeID, destinationID byte, homeID uint32, messageLength uint16, unencryptedPrefix []byte) []byte {
	aad := make([]byte, 8+len(unencryptedPrefix))
	aad[0] = sendingNodeID
	aad[1] = destinationID
	binary.BigEndian.PutUint32(aad[2:6], homeID)
	binary.BigEndian.PutUint16(aad[6:8], messageLength)
	copy(aad[8:], unencryptedPrefix)
	return aad
}

// Encode assembles and encrypts an S2 encapsulation, performing the TX
// flow of spec.md §4.3.
func Encode(mgr *securemgr.Manager, params TXParams) ([]byte, error) {
	peer := params.PeerNodeID

	unencryptedExts := append([]extension.Extension(nil), params.UnencryptedExtensions...)

	state := mgr.SPANState(peer)
	if params.UseTemp {
		state = mgr.TempSPANState(peer)
	}

	switch state.Kind() {
	case securemgr.SPANStateNone, securemgr.SPANStateLocalEI:
		// We have not yet received the peer's receiverEI: there is
		// nothing to establish a SPAN from (spec.md §4.3, ErrNoSPAN).
		return nil, ErrNoSPAN

	case securemgr.SPANStateRemoteEI:
		receiverEI, _ := state.ReceiverEI()
		senderEI, err := mgr.GenerateNonce(peer, false)
		if err != nil {
			return nil, err
		}

		if params.UseTemp {
			if err := mgr.InitializeTempSPAN(peer, senderEI, receiverEI); err != nil {
				return nil, err
			}
		} else {
			class := params.Class
			if !class.IsS2() {
				if granted, ok := mgr.GrantedClass(peer); ok {
					class = granted
				}
			}
			if err := mgr.InitializeSPAN(peer, class, senderEI, receiverEI); err != nil {
				return nil, err
			}
		}

		unencryptedExts = append(unencryptedExts, extension.NewSPAN(senderEI))

	case securemgr.SPANStateEstablished:
		// Already established; nothing to do before encrypting.
	}

	if params.MGRPGroupID != nil && !hasMGRPExtension(unencryptedExts) {
		return nil, ErrMissingExtension
	}

	seq, err := mgr.NextSequenceNumber(peer)
	if err != nil {
		return nil, err
	}

	unencryptedBody := extension.EncodeList(unencryptedExts)
	encryptedBody := extension.EncodeList(params.EncryptedExtensions)

	var flags byte
	if len(unencryptedBody) > 0 {
		flags |= flagHasUnencryptedExtensions
	}
	if len(encryptedBody) > 0 {
		flags |= flagHasEncryptedExtensions
	}

	unencryptedPrefix := make([]byte, 2+len(unencryptedBody))
	unencryptedPrefix[0] = seq
	unencryptedPrefix[1] = flags
	copy(unencryptedPrefix[2:], unencryptedBody)

	plaintext := append(append([]byte(nil), encryptedBody...), params.Inner...)

	keySet, iv, err := nextSendingNonce(mgr, peer, params.UseTemp, seq)
	if err != nil {
		return nil, err
	}

	messageLength := len(unencryptedPrefix) + len(plaintext) + zwcrypto.AuthTagSize
	destID := destinationID(params.MGRPGroupID, peer)
	aad := buildAAD(params.OwnNodeID, destID, params.HomeID, uint16(messageLength), unencryptedPrefix)

	ciphertext, err := zwcrypto.Encrypt(keySet.KeyCCM[:], iv, plaintext, aad)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(unencryptedPrefix)+len(ciphertext))
	out = append(out, unencryptedPrefix...)
	out = append(out, ciphertext...)
	return out, nil
}

// nextSendingNonce advances the right SPAN (temp or permanent) by one
// nonce and resolves the key set that nonce must be used with. seq is
// the sequence number this frame is being sent under, recorded
// alongside the persisted "previous SPAN" candidate (spec.md §4.3 RX
// step 6, S-4).
func nextSendingNonce(mgr *securemgr.Manager, peer securemgr.NodeID, useTemp bool, seq byte) (*zwcrypto.NetworkKeySet, []byte, error) {
	var state *securemgr.SPANState
	var iv []byte
	var err error

	if useTemp {
		state = mgr.TempSPANState(peer)
		iv, err = mgr.NextTempNonce(peer, true, seq)
	} else {
		state = mgr.SPANState(peer)
		iv, err = mgr.NextNonce(peer, true, seq)
	}
	if err != nil {
		return nil, nil, err
	}

	class, _ := state.Class()
	keySet, err := mgr.GetKeysForSecurityClass(class)
	if err != nil {
		return nil, nil, err
	}
	return keySet, iv, nil
}

func hasMGRPExtension(exts []extension.Extension) bool {
	_, ok := extension.Find(exts, extension.TypeMGRP)
	return ok
}

// RXParams carries the addressing inputs RX decryption needs (spec.md
// §4.3 RX flow, §6 Host interface).
type RXParams struct {
	OwnNodeID  securemgr.NodeID
	PeerNodeID securemgr.NodeID
	HomeID     uint32
	Data       []byte
}

// Decode parses and decrypts a wire-format S2 encapsulation, performing
// the RX flow and decrypt-retry ladder of spec.md §4.3.
func Decode(mgr *securemgr.Manager, params RXParams) (*Envelope, error) {
	data := params.Data
	if len(data) < 2 {
		return nil, ErrPayloadInvalid
	}

	peer := params.PeerNodeID
	seq := data[0]
	flags := data[1]

	if mgr.IsDuplicateSinglecast(peer, seq) {
		return nil, ErrCannotDecode
	}

	offset := 2
	var unencryptedExts []extension.Extension
	if flags&flagHasUnencryptedExtensions != 0 {
		exts, n, err := extension.DecodeList(data[offset:], isKnownUnencryptedExtension)
		if err != nil {
			return nil, ErrPayloadInvalid
		}
		unencryptedExts = exts
		offset += n
	}

	if len(data)-offset < zwcrypto.AuthTagSize {
		return nil, ErrPayloadInvalid
	}
	ciphertext := data[offset:]

	mgrp, hasMGRP := extension.Find(unencryptedExts, extension.TypeMGRP)
	var destID byte
	if hasMGRP {
		destID = mgrp.Body[0]
	} else {
		destID = params.OwnNodeID
	}

	unencryptedPrefix := data[:offset]
	aad := buildAAD(peer, destID, params.HomeID, uint16(len(data)), unencryptedPrefix)

	plaintext, class, err := decryptWithRetryLadder(mgr, peer, seq, unencryptedExts, ciphertext, aad)
	if err != nil {
		return nil, err
	}

	// Only record the sequence number (and thus the dedup/previous-SPAN
	// window) once decryption has actually succeeded, so a forged frame
	// can never poison a peer's replay-protection state.
	mgr.StoreSequenceNumber(peer, seq)

	env := &Envelope{SequenceNumber: seq, UnencryptedExtensions: unencryptedExts, Class: class}

	body := plaintext
	if flags&flagHasEncryptedExtensions != 0 {
		exts, n, err := extension.DecodeList(body, isKnownEncryptedExtension)
		if err != nil {
			return nil, ErrPayloadInvalid
		}
		env.EncryptedExtensions = exts
		body = body[n:]
	}
	if len(body) > 0 {
		env.Inner = body
	}

	return env, nil
}

// decryptWithRetryLadder resolves the right nonce candidates for the
// peer's current SPAN state and retries within DecryptAttempts,
// implementing spec.md §4.3 RX step 6.
func decryptWithRetryLadder(
	mgr *securemgr.Manager,
	peer securemgr.NodeID,
	seq byte,
	unencryptedExts []extension.Extension,
	ciphertext, aad []byte,
) ([]byte, securemgr.SecurityClass, error) {
	state := mgr.SPANState(peer)

	switch state.Kind() {
	case securemgr.SPANStateNone, securemgr.SPANStateRemoteEI:
		return nil, securemgr.SecurityClassNone, ErrNoSPAN

	case securemgr.SPANStateEstablished:
		return decryptEstablished(mgr, peer, seq, state, ciphertext, aad)

	case securemgr.SPANStateLocalEI:
		return decryptLocalEI(mgr, peer, state, unencryptedExts, ciphertext, aad)

	default:
		return nil, securemgr.SecurityClassNone, ErrCannotDecode
	}
}

// decryptEstablished tries the still-fresh "previous SPAN" nonce first
// — but only when seq is exactly the successor of the sequence number
// it was recorded at (spec.md §4.3 RX step 6, S-4) — then walks the
// nonce stream forward up to DecryptAttempts times (§8 property 4).
func decryptEstablished(mgr *securemgr.Manager, peer securemgr.NodeID, seq byte, state *securemgr.SPANState, ciphertext, aad []byte) ([]byte, securemgr.SecurityClass, error) {
	class, _ := state.Class()
	keySet, err := mgr.GetKeysForSecurityClass(class)
	if err != nil {
		return nil, securemgr.SecurityClassNone, ErrCannotDecode
	}

	if nonce, ok := mgr.TakeCurrentNonceIfFresh(peer, seq); ok {
		if pt, err := zwcrypto.Decrypt(keySet.KeyCCM[:], nonce, ciphertext, aad); err == nil {
			return pt, class, nil
		}
	}

	for attempt := 0; attempt < securemgr.DecryptAttempts; attempt++ {
		nonce, err := mgr.NextNonce(peer, false, 0)
		if err != nil {
			return nil, securemgr.SecurityClassNone, ErrCannotDecode
		}
		if pt, err := zwcrypto.Decrypt(keySet.KeyCCM[:], nonce, ciphertext, aad); err == nil {
			return pt, class, nil
		}
	}
	return nil, securemgr.SecurityClassNone, ErrCannotDecode
}

// decryptLocalEI handles the first encapsulated frame from a peer whose
// class is not yet known: either the KEX temp SPAN, or a trial decrypt
// across S2ClassDiscoveryOrder (spec.md §4.3 RX step 6, §4.7).
func decryptLocalEI(mgr *securemgr.Manager, peer securemgr.NodeID, state *securemgr.SPANState, unencryptedExts []extension.Extension, ciphertext, aad []byte) ([]byte, securemgr.SecurityClass, error) {
	spanExt, ok := extension.Find(unencryptedExts, extension.TypeSPAN)
	if !ok {
		return nil, securemgr.SecurityClassNone, ErrCannotDecode
	}
	senderEI := spanExt.Body
	receiverEI, _ := state.ReceiverEI()

	if mgr.TempSPANState(peer).Kind() == securemgr.SPANStateLocalEI {
		if err := mgr.InitializeTempSPAN(peer, senderEI, receiverEI); err == nil {
			if nonce, err := mgr.NextTempNonce(peer, false, 0); err == nil {
				if keySet, err := mgr.GetKeysForSecurityClass(securemgr.SecurityClassTemporary); err == nil {
					if pt, err := zwcrypto.Decrypt(keySet.KeyCCM[:], nonce, ciphertext, aad); err == nil {
						return pt, securemgr.SecurityClassTemporary, nil
					}
				}
			}
		}
		return nil, securemgr.SecurityClassNone, ErrCannotDecode
	}

	for _, class := range securemgr.S2ClassDiscoveryOrder {
		if mgr.IsKnownNotGranted(peer, class) || !mgr.HasKeysForSecurityClass(class) {
			continue
		}

		if err := mgr.InitializeSPAN(peer, class, senderEI, receiverEI); err != nil {
			continue
		}
		nonce, err := mgr.NextNonce(peer, false, 0)
		if err != nil {
			mgr.SetLocalEI(peer, receiverEI)
			continue
		}
		keySet, err := mgr.GetKeysForSecurityClass(class)
		if err != nil {
			mgr.SetLocalEI(peer, receiverEI)
			continue
		}

		if pt, err := zwcrypto.Decrypt(keySet.KeyCCM[:], nonce, ciphertext, aad); err == nil {
			mgr.SetGrantedClass(peer, class, true)
			return pt, class, nil
		}
		mgr.SetLocalEI(peer, receiverEI)
	}
	return nil, securemgr.SecurityClassNone, ErrCannotDecode
}
