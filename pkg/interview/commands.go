// Package interview implements the per-node security-class discovery
// driver (spec.md §4.7, C7): it finds which security class a node holds
// by sending S2-encapsulated CommandsSupportedGet and watching whether
// a decryptable reply comes back.
package interview

import (
	"errors"

	"github.com/go-zwave/s2/pkg/bitmask"
	"github.com/go-zwave/s2/pkg/cc"
)

// Command identifiers for the two commands this driver exchanges. Real
// Z-Wave assigns these within the Security 2 command class; the values
// here are chosen to avoid the slots pkg/encap and pkg/kex already
// claim within this module.
const (
	CommandsSupportedGet    cc.CommandID = 0x0C
	CommandsSupportedReport cc.CommandID = 0x0D
)

var errPayloadInvalid = errors.New("interview: payload too short")

func init() {
	cc.Register(cc.ClassSecurity2, CommandsSupportedGet, func() cc.Command { return &SupportedGet{} })
	cc.Register(cc.ClassSecurity2, CommandsSupportedReport, func() cc.Command { return &SupportedReport{} })
}

// SupportedGet asks a peer which command classes it supports under the
// security class the enclosing S2 encapsulation was sent with.
type SupportedGet struct{}

// ClassID implements cc.Command.
func (*SupportedGet) ClassID() cc.ClassID { return cc.ClassSecurity2 }

// CommandID implements cc.Command.
func (*SupportedGet) CommandID() cc.CommandID { return CommandsSupportedGet }

// Encode implements cc.Command. SupportedGet carries no payload.
func (*SupportedGet) Encode(buf []byte) (int, error) { return 0, nil }

// Decode implements cc.Command.
func (*SupportedGet) Decode(data []byte) (int, error) { return 0, nil }

// SupportedReport lists the command classes supported securely at the
// class the request arrived under.
type SupportedReport struct {
	ReportsToFollow byte
	CCs             []byte
}

// ClassID implements cc.Command.
func (*SupportedReport) ClassID() cc.ClassID { return cc.ClassSecurity2 }

// CommandID implements cc.Command.
func (*SupportedReport) CommandID() cc.CommandID { return CommandsSupportedReport }

// Encode implements cc.Command.
func (r *SupportedReport) Encode(buf []byte) (int, error) {
	body := bitmask.EncodeCCList(r.CCs)
	n := 1 + len(body)
	if len(buf) < n {
		return 0, errPayloadInvalid
	}
	buf[0] = r.ReportsToFollow
	copy(buf[1:], body)
	return n, nil
}

// Decode implements cc.Command.
func (r *SupportedReport) Decode(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, errPayloadInvalid
	}
	r.ReportsToFollow = data[0]
	ccs, n := bitmask.DecodeCCList(data[1:])
	r.CCs = ccs
	return 1 + n, nil
}
