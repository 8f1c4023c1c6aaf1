// s2demo runs a self-contained Security 2 bootstrap between an
// in-process controller and joining node, then exchanges S2-encapsulated
// Schedule Entry Lock commands (a WeekDayScheduleSet, then a
// WeekDayScheduleGet/Report round trip) over the freshly granted
// security class.
//
// Usage:
//
//	s2demo
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-zwave/s2/pkg/cc"
	"github.com/go-zwave/s2/pkg/encap"
	"github.com/go-zwave/s2/pkg/kex"
	"github.com/go-zwave/s2/pkg/s2host"
	"github.com/go-zwave/s2/pkg/schedulelock"
	"github.com/go-zwave/s2/pkg/securemgr"
	"github.com/pion/logging"
)

const (
	demoHomeID     = 0xCAFEBABE
	controllerID   = securemgr.NodeID(1)
	joinerID       = securemgr.NodeID(2)
	weekDaySlotID  = 1
	weekDayUserID  = 7
)

func main() {
	factory := logging.NewDefaultLoggerFactory()
	appLog := factory.NewLogger("s2demo")

	controller := s2host.NewMockHost(controllerID, demoHomeID)
	joiner := s2host.NewMockHost(joinerID, demoHomeID)
	controller.Connect(joiner)

	controller.SecurityManager().SetLogger(factory.NewLogger("securemgr-controller"))
	joiner.SecurityManager().SetLogger(factory.NewLogger("securemgr-joiner"))

	// A real controller already holds the network key for every class
	// it can grant; the joiner starts with none until KEX transfers one.
	for _, class := range []securemgr.SecurityClass{
		securemgr.SecurityClassS2Unauthenticated,
		securemgr.SecurityClassS2Authenticated,
		securemgr.SecurityClassS2AccessControl,
	} {
		key := bytes.Repeat([]byte{byte(class) + 0x10}, 16)
		if err := controller.SecurityManager().Keys().SetNetworkKey(class, key); err != nil {
			log.Fatalf("controller SetNetworkKey(%v): %v", class, err)
		}
	}

	grantedClass, err := runBootstrap(appLog, controller, joiner)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	appLog.Infof("KEX bootstrap complete: joiner granted %s", grantedClass)

	if err := runScheduleLockDemo(controller, joiner, grantedClass); err != nil {
		log.Fatalf("schedule lock demo failed: %v", err)
	}
}

// runBootstrap drives the joining-node and including-node KEX state
// machines through the full dialog of spec.md §4.6, exactly the way a
// real driver would message-by-message, and returns the class granted.
func runBootstrap(appLog logging.LeveledLogger, controllerHost, joinerHost *s2host.MockHost) (securemgr.SecurityClass, error) {
	grantOrder := []securemgr.SecurityClass{
		securemgr.SecurityClassS2Authenticated,
		securemgr.SecurityClassS2AccessControl,
	}
	capabilities := kex.KEXReportSet{
		Schemes:    kex.KEXScheme1,
		Profiles:   kex.ECDHProfileCurve25519,
		ClassesRaw: kex.ClassesToBitmask(grantOrder),
	}

	joinerSM := kex.NewJoiner(joinerHost.SecurityManager(), controllerID, capabilities)
	controllerSM := kex.NewController(controllerHost.SecurityManager(), joinerID)

	if err := controllerSM.Start(); err != nil {
		return securemgr.SecurityClassNone, err
	}
	appLog.Debugf("controller: KEXGet -> joiner")

	report, err := joinerSM.HandleKEXGet()
	if err != nil {
		return securemgr.SecurityClassNone, err
	}

	set, err := controllerSM.HandleKEXReport(report, grantOrder)
	if err != nil {
		return securemgr.SecurityClassNone, err
	}

	joinerPub, err := joinerSM.HandleKEXSet(set)
	if err != nil {
		return securemgr.SecurityClassNone, err
	}

	controllerPub, err := controllerSM.HandleJoinerPublicKey(joinerPub)
	if err != nil {
		return securemgr.SecurityClassNone, err
	}

	if err := joinerSM.HandlePublicKeyReport(controllerPub); err != nil {
		return securemgr.SecurityClassNone, err
	}
	appLog.Debugf("ECDH complete, temporary key and SPAN installed on both sides")

	echoedSet, err := controllerSM.EchoedKEXSet()
	if err != nil {
		return securemgr.SecurityClassNone, err
	}

	echoedReport, err := joinerSM.HandleEchoedKEXSet(echoedSet)
	if err != nil {
		return securemgr.SecurityClassNone, err
	}

	if err := controllerSM.HandleEchoedKEXReport(echoedReport); err != nil {
		return securemgr.SecurityClassNone, err
	}

	var lastGranted securemgr.SecurityClass
	for {
		nextGet, err := joinerSM.NextNetworkKeyGet()
		if err != nil {
			return securemgr.SecurityClassNone, err
		}
		appLog.Debugf("joiner: NetworkKeyGet(%s) -> controller", nextGet.RequestedKey)

		keyReport, err := controllerSM.HandleNetworkKeyGet(nextGet)
		if err != nil {
			return securemgr.SecurityClassNone, err
		}
		if err := joinerSM.HandleNetworkKeyReport(keyReport); err != nil {
			return securemgr.SecurityClassNone, err
		}
		lastGranted = keyReport.GrantedKey

		perClassEnd, err := controllerSM.HandleNetworkKeyVerify()
		if err != nil {
			return securemgr.SecurityClassNone, err
		}

		_, completion, err := joinerSM.HandleTransferEnd(perClassEnd)
		if err != nil {
			return securemgr.SecurityClassNone, err
		}
		if completion != nil {
			if err := controllerSM.HandleTransferEnd(*completion); err != nil {
				return securemgr.SecurityClassNone, err
			}
			break
		}
	}

	controllerHost.SetSecurityClass(joinerID, lastGranted, true)
	joinerHost.SetSecurityClass(controllerID, lastGranted, true)
	return lastGranted, nil
}

// runScheduleLockDemo sends one WeekDayScheduleSet and one
// WeekDayScheduleGet/Report round trip between the two nodes,
// S2-encapsulated under the class granted during bootstrap.
func runScheduleLockDemo(controllerHost, joinerHost *s2host.MockHost, class securemgr.SecurityClass) error {
	// Establish the permanent SPAN the way S-1 does: the controller
	// asks the joiner for a receiverEI before sending its first
	// encrypted command.
	noncePeer, err := encap.HandleNonceGet(joinerHost.SecurityManager(), controllerID, 0)
	if err != nil {
		return fmt.Errorf("s2demo: NonceGet: %w", err)
	}
	encap.HandleNonceReport(controllerHost.SecurityManager(), joinerID, noncePeer)

	lockState := &schedulelock.WeekDayScheduleReport{}

	joinerHost.SetHandler(func(peer securemgr.NodeID, payload []byte) []byte {
		env, err := encap.Decode(joinerHost.SecurityManager(), encap.RXParams{
			OwnNodeID:  joinerID,
			PeerNodeID: controllerID,
			HomeID:     demoHomeID,
			Data:       payload,
		})
		if err != nil {
			return nil
		}

		cmd, _, err := cc.DecodeFrame(env.Inner)
		if err != nil {
			return nil
		}

		switch msg := cmd.(type) {
		case *schedulelock.WeekDayScheduleSet:
			lockState.UserID = msg.UserID
			lockState.SlotID = msg.SlotID
			lockState.Schedule = msg.Schedule
			return nil
		case *schedulelock.WeekDayScheduleGet:
			frame, err := cc.EncodeFrame(lockState)
			if err != nil {
				return nil
			}
			reply, err := encap.Encode(joinerHost.SecurityManager(), encap.TXParams{
				OwnNodeID:  joinerID,
				PeerNodeID: controllerID,
				HomeID:     demoHomeID,
				Inner:      frame,
			})
			if err != nil {
				return nil
			}
			return reply
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	setCmd := &schedulelock.WeekDayScheduleSet{
		Action: schedulelock.WeekDayActionSet,
		UserID: weekDayUserID,
		SlotID: weekDaySlotID,
		Schedule: schedulelock.WeekDaySchedule{
			Present: true, Weekday: 1, StartHour: 8, StartMinute: 0, StopHour: 18, StopMinute: 0,
		},
	}
	if err := sendEncapsulated(ctx, controllerHost, joinerID, class, setCmd); err != nil {
		return err
	}

	getCmd := &schedulelock.WeekDayScheduleGet{UserID: weekDayUserID, SlotID: weekDaySlotID}
	reply, err := sendEncapsulatedForReply(ctx, controllerHost, joinerID, class, getCmd)
	if err != nil {
		return err
	}

	cmd, _, err := cc.DecodeFrame(reply.Inner)
	if err != nil {
		return err
	}
	report, ok := cmd.(*schedulelock.WeekDayScheduleReport)
	if !ok {
		return fmt.Errorf("s2demo: unexpected reply command %T", cmd)
	}
	fmt.Printf("lock reports schedule for user %d slot %d: weekday=%d %02d:%02d-%02d:%02d\n",
		report.UserID, report.SlotID, report.Schedule.Weekday,
		report.Schedule.StartHour, report.Schedule.StartMinute,
		report.Schedule.StopHour, report.Schedule.StopMinute)
	return nil
}

func sendEncapsulated(ctx context.Context, host *s2host.MockHost, peer securemgr.NodeID, class securemgr.SecurityClass, cmd cc.Command) error {
	_, err := sendEncapsulatedForReply(ctx, host, peer, class, cmd)
	return err
}

func sendEncapsulatedForReply(ctx context.Context, host *s2host.MockHost, peer securemgr.NodeID, class securemgr.SecurityClass, cmd cc.Command) (*encap.Envelope, error) {
	frame, err := cc.EncodeFrame(cmd)
	if err != nil {
		return nil, err
	}
	encoded, err := encap.Encode(host.SecurityManager(), encap.TXParams{
		OwnNodeID:  host.OwnNodeID(),
		PeerNodeID: peer,
		HomeID:     demoHomeID,
		Class:      class,
		Inner:      frame,
	})
	if err != nil {
		return nil, err
	}

	reply, err := host.SendCommand(ctx, peer, encoded, s2host.SendOptions{
		TransmitOptions: s2host.TransmitOptionACK,
		MaxSendAttempts: 1,
	})
	if err == s2host.ErrNoResponse {
		return &encap.Envelope{}, nil
	}
	if err != nil {
		return nil, err
	}

	return encap.Decode(host.SecurityManager(), encap.RXParams{
		OwnNodeID:  host.OwnNodeID(),
		PeerNodeID: peer,
		HomeID:     demoHomeID,
		Data:       reply,
	})
}
