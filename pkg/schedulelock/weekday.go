package schedulelock

import "github.com/go-zwave/s2/pkg/cc"

// WeekDayAction selects whether WeekDayScheduleSet installs or removes
// a schedule slot (spec.md §6).
type WeekDayAction byte

const (
	WeekDayActionErase WeekDayAction = 0
	WeekDayActionSet   WeekDayAction = 1
)

// WeekDaySchedule is the optional weekday/time-of-day payload shared by
// WeekDayScheduleSet and WeekDayScheduleReport. A zero value with
// Present=false encodes as five 0xFF bytes (spec.md §8 property 7).
type WeekDaySchedule struct {
	Present  bool
	Weekday  byte
	StartHour, StartMinute byte
	StopHour, StopMinute   byte
}

func encodeWeekDaySchedule(buf []byte, s WeekDaySchedule) {
	if !s.Present {
		buf[0], buf[1], buf[2], buf[3], buf[4] = absent, absent, absent, absent, absent
		return
	}
	buf[0] = s.Weekday
	buf[1] = s.StartHour
	buf[2] = s.StartMinute
	buf[3] = s.StopHour
	buf[4] = s.StopMinute
}

func decodeWeekDaySchedule(data []byte) WeekDaySchedule {
	get := func(i int) byte {
		if i < len(data) {
			return data[i]
		}
		return absent
	}
	weekday, startH, startM, stopH, stopM := get(0), get(1), get(2), get(3), get(4)
	if weekday == absent && startH == absent && startM == absent && stopH == absent && stopM == absent {
		return WeekDaySchedule{Present: false}
	}
	return WeekDaySchedule{
		Present:     true,
		Weekday:     weekday,
		StartHour:   startH,
		StartMinute: startM,
		StopHour:    stopH,
		StopMinute:  stopM,
	}
}

// WeekDayScheduleSet installs or erases one user's weekday schedule
// slot (spec.md §6: `{action, userId, slotId, [weekday, startH, startM,
// stopH, stopM]}` — 8 bytes for Set, at least 3 for Erase, unused
// fields filled with 0xFF).
type WeekDayScheduleSet struct {
	Action   WeekDayAction
	UserID   byte
	SlotID   byte
	Schedule WeekDaySchedule
}

func (*WeekDayScheduleSet) ClassID() cc.ClassID     { return cc.ClassScheduleEntryLock }
func (*WeekDayScheduleSet) CommandID() cc.CommandID { return CommandWeekDayScheduleSet }

func (s *WeekDayScheduleSet) Encode(buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, ErrPayloadInvalid
	}
	buf[0] = byte(s.Action)
	buf[1] = s.UserID
	buf[2] = s.SlotID
	encodeWeekDaySchedule(buf[3:8], s.Schedule)
	return 8, nil
}

func (s *WeekDayScheduleSet) Decode(data []byte) (int, error) {
	if len(data) < 3 {
		return 0, ErrPayloadInvalid
	}
	if WeekDayAction(data[0]) == WeekDayActionSet && len(data) < 8 {
		return 0, ErrPayloadInvalid
	}
	s.Action = WeekDayAction(data[0])
	s.UserID = data[1]
	s.SlotID = data[2]
	s.Schedule = decodeWeekDaySchedule(data[3:])
	n := len(data)
	if n > 8 {
		n = 8
	}
	return n, nil
}

// WeekDayScheduleReport answers a WeekDayScheduleGet with the stored
// slot's contents, or all-absent fields if the slot is empty (spec.md
// §6: `{userId, slotId, weekday|FF, startH|FF, startM|FF, stopH|FF,
// stopM|FF}`).
type WeekDayScheduleReport struct {
	UserID   byte
	SlotID   byte
	Schedule WeekDaySchedule
}

func (*WeekDayScheduleReport) ClassID() cc.ClassID     { return cc.ClassScheduleEntryLock }
func (*WeekDayScheduleReport) CommandID() cc.CommandID { return CommandWeekDayScheduleReport }

func (r *WeekDayScheduleReport) Encode(buf []byte) (int, error) {
	if len(buf) < 7 {
		return 0, ErrPayloadInvalid
	}
	buf[0] = r.UserID
	buf[1] = r.SlotID
	encodeWeekDaySchedule(buf[2:7], r.Schedule)
	return 7, nil
}

func (r *WeekDayScheduleReport) Decode(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, ErrPayloadInvalid
	}
	r.UserID = data[0]
	r.SlotID = data[1]
	r.Schedule = decodeWeekDaySchedule(data[2:])
	n := len(data)
	if n > 7 {
		n = 7
	}
	return n, nil
}

// WeekDayScheduleGet requests the schedule stored at one user/slot
// (spec.md §6: `{userId, slotId}`, 2 bytes).
type WeekDayScheduleGet struct {
	UserID byte
	SlotID byte
}

func (*WeekDayScheduleGet) ClassID() cc.ClassID     { return cc.ClassScheduleEntryLock }
func (*WeekDayScheduleGet) CommandID() cc.CommandID { return CommandWeekDayScheduleGet }

func (g *WeekDayScheduleGet) Encode(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrPayloadInvalid
	}
	buf[0] = g.UserID
	buf[1] = g.SlotID
	return 2, nil
}

func (g *WeekDayScheduleGet) Decode(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, ErrPayloadInvalid
	}
	g.UserID = data[0]
	g.SlotID = data[1]
	return 2, nil
}
