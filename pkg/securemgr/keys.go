// Package securemgr implements SecurityManager2 (spec.md §4.2, C4): the
// per-peer SPAN state machine, sequence-number bookkeeping, and network
// key tables the S2 encapsulation codec is built on.
package securemgr

import (
	"errors"

	zwcrypto "github.com/go-zwave/s2/pkg/crypto"
)

// SecurityClass is a tagged enum over the security classes a node may
// hold (spec.md §3). The S2-class predicate is true for the middle
// three; securityClassOrder below defines "highest" for preference.
type SecurityClass int

const (
	SecurityClassS0Legacy SecurityClass = iota
	SecurityClassS2Unauthenticated
	SecurityClassS2Authenticated
	SecurityClassS2AccessControl
	SecurityClassTemporary
	SecurityClassNone
)

// String returns a human-readable name for the security class.
func (c SecurityClass) String() string {
	switch c {
	case SecurityClassS0Legacy:
		return "S0_Legacy"
	case SecurityClassS2Unauthenticated:
		return "S2_Unauthenticated"
	case SecurityClassS2Authenticated:
		return "S2_Authenticated"
	case SecurityClassS2AccessControl:
		return "S2_AccessControl"
	case SecurityClassTemporary:
		return "Temporary"
	case SecurityClassNone:
		return "None"
	default:
		return "Unknown"
	}
}

// IsS2 is true for the three S2 security classes.
func (c SecurityClass) IsS2() bool {
	switch c {
	case SecurityClassS2Unauthenticated, SecurityClassS2Authenticated, SecurityClassS2AccessControl:
		return true
	default:
		return false
	}
}

// securityClassOrder defines "highest" preference, highest first.
var securityClassOrder = []SecurityClass{
	SecurityClassS2AccessControl,
	SecurityClassS2Authenticated,
	SecurityClassS2Unauthenticated,
	SecurityClassS0Legacy,
}

// S2ClassDiscoveryOrder is the order the interview driver (pkg/interview)
// tries S2 classes in when a node's class is unknown (spec.md §4.7).
var S2ClassDiscoveryOrder = []SecurityClass{
	SecurityClassS2Unauthenticated,
	SecurityClassS2Authenticated,
	SecurityClassS2AccessControl,
}

// Highest returns the highest-preference class present in classes, and
// false if none of classes appears in securityClassOrder.
func Highest(classes []SecurityClass) (SecurityClass, bool) {
	for _, order := range securityClassOrder {
		for _, c := range classes {
			if c == order {
				return order, true
			}
		}
	}
	return SecurityClassNone, false
}

// ErrNoKeysForClass is returned when a lookup finds no configured keys
// for a requested security class.
var ErrNoKeysForClass = errors.New("securemgr: no keys configured for security class")

// KeyTable holds the derived key set for every security class known to
// this security manager, keyed by security class; each set is derived
// from that class's permanent network key.
// Keys are loaded once at startup by the host and held only in memory
// (spec.md §5, "Shared resources" — no operation persists them).
type KeyTable struct {
	keys map[SecurityClass]*zwcrypto.NetworkKeySet
}

// NewKeyTable builds an empty key table.
func NewKeyTable() *KeyTable {
	return &KeyTable{keys: make(map[SecurityClass]*zwcrypto.NetworkKeySet)}
}

// SetNetworkKey derives and stores the key set for class from its
// 16-byte permanent network key.
func (t *KeyTable) SetNetworkKey(class SecurityClass, pnk []byte) error {
	keySet, err := zwcrypto.DeriveNetworkKeySet(pnk)
	if err != nil {
		return err
	}
	t.keys[class] = keySet
	return nil
}

// Get returns the key set for class.
func (t *KeyTable) Get(class SecurityClass) (*zwcrypto.NetworkKeySet, error) {
	keySet, ok := t.keys[class]
	if !ok {
		return nil, ErrNoKeysForClass
	}
	return keySet, nil
}

// Has reports whether class has a configured key set.
func (t *KeyTable) Has(class SecurityClass) bool {
	_, ok := t.keys[class]
	return ok
}
