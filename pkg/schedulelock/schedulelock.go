// Package schedulelock implements the Schedule Entry Lock command
// class's binary codecs (spec.md §6, C8): an exemplar of the broader
// command-class serialization contract the S2 layer encapsulates,
// alongside the enable/disable and weekday-schedule commands a lock
// actually exchanges.
package schedulelock

import (
	"errors"

	"github.com/go-zwave/s2/pkg/cc"
)

// Command identifiers within the Schedule Entry Lock command class.
const (
	CommandEnableSet             cc.CommandID = 0x01
	CommandEnableAllSet          cc.CommandID = 0x02
	CommandWeekDayScheduleSet    cc.CommandID = 0x03
	CommandWeekDayScheduleGet    cc.CommandID = 0x04
	CommandWeekDayScheduleReport cc.CommandID = 0x05
	CommandSupportedReport       cc.CommandID = 0x0E
)

// absent is the "this optional field has no value" sentinel (spec.md
// §8 property 7).
const absent = 0xFF

var (
	// ErrPayloadInvalid is returned when a decoder's length/range check
	// fails.
	ErrPayloadInvalid = errors.New("schedulelock: payload failed a length or range check")
)

func init() {
	cc.Register(cc.ClassScheduleEntryLock, CommandEnableSet, func() cc.Command { return &EnableSet{} })
	cc.Register(cc.ClassScheduleEntryLock, CommandEnableAllSet, func() cc.Command { return &EnableAllSet{} })
	cc.Register(cc.ClassScheduleEntryLock, CommandWeekDayScheduleSet, func() cc.Command { return &WeekDayScheduleSet{} })
	cc.Register(cc.ClassScheduleEntryLock, CommandWeekDayScheduleGet, func() cc.Command { return &WeekDayScheduleGet{} })
	cc.Register(cc.ClassScheduleEntryLock, CommandWeekDayScheduleReport, func() cc.Command { return &WeekDayScheduleReport{} })
	cc.Register(cc.ClassScheduleEntryLock, CommandSupportedReport, func() cc.Command { return &SupportedReport{} })
}

// EnableSet enables or disables one user's schedule (spec.md §6:
// `{userId, enabled}`, 2 bytes).
type EnableSet struct {
	UserID  byte
	Enabled bool
}

func (*EnableSet) ClassID() cc.ClassID     { return cc.ClassScheduleEntryLock }
func (*EnableSet) CommandID() cc.CommandID { return CommandEnableSet }

func (s *EnableSet) Encode(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrPayloadInvalid
	}
	buf[0] = s.UserID
	buf[1] = boolToByte(s.Enabled)
	return 2, nil
}

func (s *EnableSet) Decode(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, ErrPayloadInvalid
	}
	s.UserID = data[0]
	s.Enabled = data[1] != 0
	return 2, nil
}

// EnableAllSet enables or disables every user's schedule at once
// (spec.md §6: `{enabled}`, 1 byte).
type EnableAllSet struct {
	Enabled bool
}

func (*EnableAllSet) ClassID() cc.ClassID     { return cc.ClassScheduleEntryLock }
func (*EnableAllSet) CommandID() cc.CommandID { return CommandEnableAllSet }

func (s *EnableAllSet) Encode(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrPayloadInvalid
	}
	buf[0] = boolToByte(s.Enabled)
	return 1, nil
}

func (s *EnableAllSet) Decode(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, ErrPayloadInvalid
	}
	s.Enabled = data[0] != 0
	return 1, nil
}

// SupportedReport advertises how many schedule slots of each kind the
// lock supports (spec.md §6: `{numWeekDaySlots, numYearDaySlots,
// numDailyRepeatingSlots?}`, 2 or 3 bytes).
type SupportedReport struct {
	NumWeekDaySlots        byte
	NumYearDaySlots        byte
	NumDailyRepeatingSlots byte
	HasDailyRepeating      bool // false on a version < 3 lock (2-byte report)
}

func (*SupportedReport) ClassID() cc.ClassID     { return cc.ClassScheduleEntryLock }
func (*SupportedReport) CommandID() cc.CommandID { return CommandSupportedReport }

func (s *SupportedReport) Encode(buf []byte) (int, error) {
	n := 2
	if s.HasDailyRepeating {
		n = 3
	}
	if len(buf) < n {
		return 0, ErrPayloadInvalid
	}
	buf[0] = s.NumWeekDaySlots
	buf[1] = s.NumYearDaySlots
	if s.HasDailyRepeating {
		buf[2] = s.NumDailyRepeatingSlots
	}
	return n, nil
}

func (s *SupportedReport) Decode(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, ErrPayloadInvalid
	}
	s.NumWeekDaySlots = data[0]
	s.NumYearDaySlots = data[1]
	if len(data) >= 3 {
		s.NumDailyRepeatingSlots = data[2]
		s.HasDailyRepeating = true
		return 3, nil
	}
	return 2, nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
