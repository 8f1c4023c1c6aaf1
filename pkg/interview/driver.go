package interview

import (
	"context"
	"errors"
	"time"

	"github.com/go-zwave/s2/pkg/cc"
	"github.com/go-zwave/s2/pkg/encap"
	"github.com/go-zwave/s2/pkg/s2host"
	"github.com/go-zwave/s2/pkg/securemgr"
)

// ErrNoClassGranted is returned when no candidate security class
// produced a decryptable CommandsSupportedReport (spec.md §4.7 step 4).
var ErrNoClassGranted = errors.New("interview: no security class granted")

// ErrNoReceiverEI is returned when the peer has no known receiverEI
// (i.e. never completed a NonceGet/NonceReport handshake), a
// precondition spec.md §4.7 assumes before the interview begins.
var ErrNoReceiverEI = errors.New("interview: peer has no established receiverEI")

// RetryPolicy bounds how many times CommandsSupportedGet is resent to a
// single candidate class after a "could not decode" result, and how
// long to wait between attempts (spec.md §4.7 step 2).
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// RootRetryPolicy is used at the root endpoint: up to 3 retries, 500ms
// apart.
var RootRetryPolicy = RetryPolicy{MaxAttempts: 4, Delay: 500 * time.Millisecond}

// NonRootRetryPolicy is used at a non-root endpoint: 1 retry.
var NonRootRetryPolicy = RetryPolicy{MaxAttempts: 2, Delay: 500 * time.Millisecond}

// Waiter pauses for d; tests substitute a no-op to avoid real delays.
type Waiter func(d time.Duration)

// RealWaiter sleeps for the full duration.
func RealWaiter(d time.Duration) { time.Sleep(d) }

// Result is the outcome of a successful interview: the class granted
// and the command classes the peer reports as supported under it.
type Result struct {
	Class        securemgr.SecurityClass
	SupportedCCs []byte
}

// candidateClasses implements spec.md §4.7 step 1: try only the known
// class if it is an S2 class, else the full discovery order.
func candidateClasses(host s2host.Host, peer securemgr.NodeID) []securemgr.SecurityClass {
	if known, ok := host.GetHighestSecurityClass(peer); ok && known.IsS2() {
		return []securemgr.SecurityClass{known}
	}
	return securemgr.S2ClassDiscoveryOrder
}

// InterviewRoot runs the root-endpoint discovery procedure of spec.md
// §4.7 steps 1-4 against peer.
func InterviewRoot(ctx context.Context, host s2host.Host, peer securemgr.NodeID, wait Waiter) (*Result, error) {
	return interview(ctx, host, peer, RootRetryPolicy, wait)
}

// InterviewEndpoint runs the non-root endpoint procedure of spec.md §4.7
// steps 2-4: the same per-class loop with a shorter retry budget. When
// the peer's highest class is unknown to the host and no candidate
// answers, it returns a Result with Class SecurityClassNone, no
// SupportedCCs and a nil error instead of ErrNoClassGranted; it does
// not record any of the endpoint's command classes as secure.
func InterviewEndpoint(ctx context.Context, host s2host.Host, peer securemgr.NodeID, wait Waiter) (*Result, error) {
	result, err := interview(ctx, host, peer, NonRootRetryPolicy, wait)
	if err == ErrNoClassGranted {
		if _, known := host.GetHighestSecurityClass(peer); !known {
			return &Result{Class: securemgr.SecurityClassNone, SupportedCCs: nil}, nil
		}
	}
	return result, err
}

func interview(ctx context.Context, host s2host.Host, peer securemgr.NodeID, policy RetryPolicy, wait Waiter) (*Result, error) {
	mgr := host.SecurityManager()
	candidates := candidateClasses(host, peer)

	receiverEI, hasReceiverEI := mgr.SPANState(peer).ReceiverEI()
	if !hasReceiverEI {
		return nil, ErrNoReceiverEI
	}

	for i, class := range candidates {
		if mgr.IsKnownNotGranted(peer, class) || !mgr.HasKeysForSecurityClass(class) {
			continue
		}
		if i > 0 {
			// Rewind to the shared receiverEI so the next candidate's
			// trial establishes its own SPAN from the same starting
			// point (spec.md §4.7 step 2).
			mgr.StoreRemoteEI(peer, receiverEI)
		}

		report, granted, err := trySupportedGet(ctx, host, peer, class, policy, wait)
		if err != nil {
			return nil, err
		}
		if granted {
			mgr.SetGrantedClass(peer, class, true)
			host.SetSecurityClass(peer, class, true)
			return &Result{Class: class, SupportedCCs: report.CCs}, nil
		}
		if len(candidates) > 1 {
			mgr.SetGrantedClass(peer, class, false)
		}
	}
	if log := mgr.Logger(); log != nil {
		log.Warnf("interview of peer %d exhausted every candidate class", peer)
	}
	return nil, ErrNoClassGranted
}

// trySupportedGet sends CommandsSupportedGet encapsulated under class,
// retrying per policy whenever the result is "could not decode"
// (spec.md §4.7 step 2).
func trySupportedGet(ctx context.Context, host s2host.Host, peer securemgr.NodeID, class securemgr.SecurityClass, policy RetryPolicy, wait Waiter) (*SupportedReport, bool, error) {
	mgr := host.SecurityManager()

	frame, err := cc.EncodeFrame(&SupportedGet{})
	if err != nil {
		return nil, false, err
	}

	log := mgr.Logger()

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if log != nil {
				log.Debugf("retrying CommandsSupportedGet to peer %d under %s (attempt %d/%d)", peer, class, attempt+1, policy.MaxAttempts)
			}
			wait(policy.Delay)
		}

		encoded, err := encap.Encode(mgr, encap.TXParams{
			OwnNodeID:  host.OwnNodeID(),
			PeerNodeID: peer,
			HomeID:     host.HomeID(),
			Class:      class,
			Inner:      frame,
		})
		if err != nil {
			return nil, false, err
		}

		reply, err := host.SendCommand(ctx, peer, encoded, s2host.SendOptions{
			TransmitOptions: s2host.TransmitOptionACK,
			MaxSendAttempts: 1,
			Priority:        s2host.PriorityNodeQuery,
		})
		if err != nil {
			continue // no response: retry per policy
		}

		env, err := encap.Decode(mgr, encap.RXParams{
			OwnNodeID:  host.OwnNodeID(),
			PeerNodeID: peer,
			HomeID:     host.HomeID(),
			Data:       reply,
		})
		if err != nil {
			continue // could not decode: retry per policy
		}

		cmd, _, err := cc.DecodeFrame(env.Inner)
		if err != nil {
			continue
		}
		report, ok := cmd.(*SupportedReport)
		if !ok {
			continue
		}
		return report, true, nil
	}
	return nil, false, nil
}
