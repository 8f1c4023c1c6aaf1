// Package encap implements the S2 message encapsulation codec (spec.md
// §4.3, C5): the wire format, authentication-data construction, TX
// encryption, and the RX decrypt-retry ladder that underlies every
// S2-protected command exchange.
package encap

import "errors"

// Error kinds from spec.md §7, each with a precise trigger and recovery
// policy documented at its call site.
var (
	// ErrNoSPAN: RX, an encapsulated command arrived without usable SPAN
	// state. Recovery: emit NonceReport(SOS=true), drop the command.
	ErrNoSPAN = errors.New("encap: no SPAN established for this peer")

	// ErrCannotDecode: RX, CCM auth failed on every attempt, a dedup hit,
	// or AAD mismatch. Recovery: emit NonceReport(SOS=true), drop the
	// command.
	ErrCannotDecode = errors.New("encap: could not decode the encapsulated command")

	// ErrMissingExtension: TX, a multicast destination without an MGRP
	// extension. Fatal to the send.
	ErrMissingExtension = errors.New("encap: multicast destination requires an MGRP extension")

	// ErrNotReady: TX attempted before ownNodeId or keys are available.
	ErrNotReady = errors.New("encap: driver not ready (missing node id or keys)")

	// ErrPayloadInvalid: a binary decoder length/range check failed.
	// Recovery: drop the frame; never retried.
	ErrPayloadInvalid = errors.New("encap: payload failed a length or range check")
)
