// Package cc defines the command-class codec contract shared by every
// command class in this module (security2, schedulelock, …) and an
// explicit registration table mapping (classID, commandID) to a codec
// factory (spec.md §9, "replace decorator-driven command registration
// with an explicit registry").
package cc

// ClassID identifies a command class, e.g. Security2 or Schedule Entry
// Lock.
type ClassID uint16

// CommandID identifies a command within a command class.
type CommandID uint8

// Command classes referenced by this module.
const (
	ClassSecurity2         ClassID = 0x9F
	ClassScheduleEntryLock ClassID = 0x4E
)

// Command is the codec contract every command-class message implements:
// a flat byte encoding paired with its inverse, in the style of
// pkg/message's Encode(buf)/Decode(data) pair.
type Command interface {
	// ClassID returns the owning command class.
	ClassID() ClassID

	// CommandID returns the command identifier within the class.
	CommandID() CommandID

	// Encode serializes the command's payload (excluding the
	// class/command ID header bytes, which the encapsulating
	// transport prepends) into buf, returning the number of bytes
	// written.
	Encode(buf []byte) (int, error)

	// Decode parses the command's payload from data, returning the
	// number of bytes consumed.
	Decode(data []byte) (int, error)
}

// EncodeFrame serializes cmd with its class/command ID header, the
// shape a command takes when tunneled as another command's payload
// (e.g. CommandsSupportedGet inside an S2 encapsulation's Inner field).
func EncodeFrame(cmd Command) ([]byte, error) {
	buf := make([]byte, 2+64)
	n, err := cmd.Encode(buf[2:])
	if err != nil {
		return nil, err
	}
	buf[0] = byte(cmd.ClassID())
	buf[1] = byte(cmd.CommandID())
	return buf[:2+n], nil
}

// DecodeFrame reads a class/command ID header from data and decodes the
// remainder into the registered Command for that pair.
func DecodeFrame(data []byte) (Command, int, error) {
	if len(data) < 2 {
		return nil, 0, ErrUnknownCommand
	}
	cmd, n, err := Decode(ClassID(data[0]), CommandID(data[1]), data[2:])
	if err != nil {
		return nil, 0, err
	}
	return cmd, 2 + n, nil
}
