package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

// Wire widths follow the controller's C struct layout.
const (
	SensorWidth        = 16
	SwitchWidth        = 10
	SetTrainSpeedWidth = 16
	SetSwitchWidth     = 16

	SwitchCount = 5
)

// SensorMsg reports a train passing a track sensor.
type SensorMsg struct {
	Train    uint64 `json:"train"`
	SensorID uint64 `json:"sensor_id"`
}

func (SensorMsg) MessageType() MessageType { return MessageSensor }

func (m SensorMsg) MarshalBinary() ([]byte, error) {
	b := make([]byte, SensorWidth)
	binary.LittleEndian.PutUint64(b[0:8], m.Train)
	binary.LittleEndian.PutUint64(b[8:16], m.SensorID)
	return b, nil
}

func (m *SensorMsg) UnmarshalBinary(b []byte) error {
	if len(b) != SensorWidth {
		return malformed(MessageSensor, "want %d bytes, got %d", SensorWidth, len(b))
	}
	m.Train = binary.LittleEndian.Uint64(b[0:8])
	m.SensorID = binary.LittleEndian.Uint64(b[8:16])
	return nil
}

func (m *SensorMsg) UnmarshalJSON(data []byte) error {
	return decodeFields(MessageSensor, data,
		jsonField{"train", &m.Train},
		jsonField{"sensor_id", &m.SensorID},
	)
}

// SwitchMsg reports the position of every turnout on the layout.
type SwitchMsg struct {
	State [SwitchCount]uint16 `json:"state"`
}

func (SwitchMsg) MessageType() MessageType { return MessageSwitch }

func (m SwitchMsg) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, SwitchWidth)
	for _, s := range m.State {
		b = binary.LittleEndian.AppendUint16(b, s)
	}
	return b, nil
}

func (m *SwitchMsg) UnmarshalBinary(b []byte) error {
	if len(b) != SwitchWidth {
		return malformed(MessageSwitch, "want %d bytes, got %d", SwitchWidth, len(b))
	}
	for i := range m.State {
		m.State[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return nil
}

func (m *SwitchMsg) UnmarshalJSON(data []byte) error {
	var state []uint16
	if err := decodeFields(MessageSwitch, data, jsonField{"state", &state}); err != nil {
		return err
	}
	if len(state) != SwitchCount {
		return malformed(MessageSwitch, "state: want %d entries, got %d", SwitchCount, len(state))
	}
	copy(m.State[:], state)
	return nil
}

// SetTrainSpeedMsg asks the controller to drive a train at a speed step.
type SetTrainSpeedMsg struct {
	Train uint64 `json:"train"`
	Speed uint64 `json:"speed"`
}

func (SetTrainSpeedMsg) MessageType() MessageType { return MessageSetTrainSpeed }

func (m SetTrainSpeedMsg) MarshalBinary() ([]byte, error) {
	b := make([]byte, SetTrainSpeedWidth)
	binary.LittleEndian.PutUint64(b[0:8], m.Train)
	binary.LittleEndian.PutUint64(b[8:16], m.Speed)
	return b, nil
}

func (m *SetTrainSpeedMsg) UnmarshalBinary(b []byte) error {
	if len(b) != SetTrainSpeedWidth {
		return malformed(MessageSetTrainSpeed, "want %d bytes, got %d", SetTrainSpeedWidth, len(b))
	}
	m.Train = binary.LittleEndian.Uint64(b[0:8])
	m.Speed = binary.LittleEndian.Uint64(b[8:16])
	return nil
}

func (m *SetTrainSpeedMsg) UnmarshalJSON(data []byte) error {
	return decodeFields(MessageSetTrainSpeed, data,
		jsonField{"train", &m.Train},
		jsonField{"speed", &m.Speed},
	)
}

// SetSwitchMsg throws one turnout. On the wire the bool sits at offset 8
// followed by seven bytes of struct padding.
type SetSwitchMsg struct {
	SwitchID uint64 `json:"switch_id"`
	State    bool   `json:"state"`
}

func (SetSwitchMsg) MessageType() MessageType { return MessageSetSwitch }

func (m SetSwitchMsg) MarshalBinary() ([]byte, error) {
	b := make([]byte, SetSwitchWidth)
	binary.LittleEndian.PutUint64(b[0:8], m.SwitchID)
	if m.State {
		b[8] = 1
	}
	return b, nil
}

func (m *SetSwitchMsg) UnmarshalBinary(b []byte) error {
	if len(b) != SetSwitchWidth {
		return malformed(MessageSetSwitch, "want %d bytes, got %d", SetSwitchWidth, len(b))
	}
	switch b[8] {
	case 0:
		m.State = false
	case 1:
		m.State = true
	default:
		return malformed(MessageSetSwitch, "invalid bool byte %#x", b[8])
	}
	m.SwitchID = binary.LittleEndian.Uint64(b[0:8])
	return nil
}

func (m *SetSwitchMsg) UnmarshalJSON(data []byte) error {
	return decodeFields(MessageSetSwitch, data,
		jsonField{"switch_id", &m.SwitchID},
		jsonField{"state", &m.State},
	)
}

type jsonField struct {
	name string
	dst  any
}

// decodeFields requires every named field to be present and non-null.
// Unknown fields are ignored.
func decodeFields(t MessageType, data []byte, fields ...jsonField) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return malformed(t, "data: %v", err)
	}
	if obj == nil {
		return malformed(t, "data: not an object")
	}
	for _, f := range fields {
		raw, ok := obj[f.name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return malformed(t, "missing field %q", f.name)
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return malformed(t, "field %q: %v", f.name, err)
		}
	}
	return nil
}

var (
	_ Payload = (*SensorMsg)(nil)
	_ Payload = (*SwitchMsg)(nil)
	_ Payload = (*SetTrainSpeedMsg)(nil)
	_ Payload = (*SetSwitchMsg)(nil)
)
