package protocol

import (
	"encoding"
	"fmt"
)

// MessageType identifies a payload schema. Codes are opaque lookup keys and
// are never combined.
type MessageType uint32

const (
	MessageSensor        MessageType = 1
	MessageSwitch        MessageType = 2
	MessageSetTrainSpeed MessageType = 256
	MessageSetSwitch     MessageType = 512
)

func (t MessageType) String() string {
	switch t {
	case MessageSensor:
		return "sensor"
	case MessageSwitch:
		return "switch"
	case MessageSetTrainSpeed:
		return "set_train_speed"
	case MessageSetSwitch:
		return "set_switch"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Direction is the side a message type is allowed to travel from.
type Direction int

const (
	// Telemetry flows from the device to the network.
	Telemetry Direction = iota + 1
	// Command flows from the network to the device.
	Command
)

func (d Direction) String() string {
	switch d {
	case Telemetry:
		return "telemetry"
	case Command:
		return "command"
	default:
		return "unknown"
	}
}

// Payload is a fixed-layout message body.
type Payload interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	MessageType() MessageType
}
