package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayloads() []Payload {
	return []Payload{
		&SensorMsg{Train: 3, SensorID: 7},
		&SwitchMsg{State: [SwitchCount]uint16{0, 1, 0, 1, 65535}},
		&SetTrainSpeedMsg{Train: 3, Speed: 50},
		&SetSwitchMsg{SwitchID: 4, State: true},
	}
}

func TestBinaryRoundTripEveryType(t *testing.T) {
	reg := DefaultRegistry()
	for _, p := range samplePayloads() {
		t.Run(p.MessageType().String(), func(t *testing.T) {
			b, err := reg.EncodeBinary(p)
			require.NoError(t, err)

			e, ok := reg.Lookup(p.MessageType())
			require.True(t, ok)
			assert.Len(t, b, e.Width)

			out, err := reg.DecodeBinary(p.MessageType(), b)
			require.NoError(t, err)
			assert.Equal(t, p, out)
		})
	}
}

func TestJSONRoundTripEveryType(t *testing.T) {
	reg := DefaultRegistry()
	for _, p := range samplePayloads() {
		t.Run(p.MessageType().String(), func(t *testing.T) {
			b, err := EncodeEnvelope(p)
			require.NoError(t, err)

			env, err := DecodeEnvelope(b)
			require.NoError(t, err)
			assert.Equal(t, p.MessageType(), env.Type)

			out, err := reg.DecodeJSON(env.Type, env.Data)
			require.NoError(t, err)
			assert.Equal(t, p, out)
		})
	}
}

func TestSensorEnvelopeShape(t *testing.T) {
	b, err := EncodeEnvelope(&SensorMsg{Train: 3, SensorID: 7})
	require.NoError(t, err)
	assert.Equal(t, `{"type":1,"data":{"train":3,"sensor_id":7}}`, string(b))
}

func TestSetTrainSpeedWireLayout(t *testing.T) {
	b, err := DefaultRegistry().EncodeBinary(&SetTrainSpeedMsg{Train: 3, Speed: 50})
	require.NoError(t, err)
	require.Len(t, b, 16)
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(b[0:8]))
	assert.Equal(t, uint64(50), binary.LittleEndian.Uint64(b[8:16]))
}

func TestSetSwitchPaddingAndBool(t *testing.T) {
	reg := DefaultRegistry()
	b, err := reg.EncodeBinary(&SetSwitchMsg{SwitchID: 9, State: true})
	require.NoError(t, err)
	assert.Equal(t, byte(1), b[8])
	assert.Equal(t, make([]byte, 7), b[9:])

	b[12] = 0xEE
	p, err := reg.DecodeBinary(MessageSetSwitch, b)
	require.NoError(t, err, "padding is ignored")
	assert.Equal(t, &SetSwitchMsg{SwitchID: 9, State: true}, p)

	b[8] = 2
	_, err = reg.DecodeBinary(MessageSetSwitch, b)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeBinaryErrors(t *testing.T) {
	reg := DefaultRegistry()

	_, err := reg.DecodeBinary(999, make([]byte, 16))
	require.ErrorIs(t, err, ErrUnknownType)
	var te *TypeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, MessageType(999), te.Type)

	_, err = reg.DecodeBinary(MessageSensor, make([]byte, 15))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = reg.DecodeBinary(MessageSwitch, make([]byte, 16))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeJSONErrors(t *testing.T) {
	reg := DefaultRegistry()
	cases := []struct {
		name string
		t    MessageType
		data string
		want error
	}{
		{"unknown type", 999, `{"train":1}`, ErrUnknownType},
		{"missing field", MessageSetTrainSpeed, `{"train":1}`, ErrMalformedPayload},
		{"null field", MessageSetTrainSpeed, `{"train":1,"speed":null}`, ErrMalformedPayload},
		{"negative", MessageSetTrainSpeed, `{"train":-1,"speed":2}`, ErrMalformedPayload},
		{"wrong type", MessageSetSwitch, `{"switch_id":1,"state":"on"}`, ErrMalformedPayload},
		{"not an object", MessageSensor, `[1,2]`, ErrMalformedPayload},
		{"short switch array", MessageSwitch, `{"state":[1,2,3]}`, ErrMalformedPayload},
		{"switch overflow", MessageSwitch, `{"state":[1,2,3,4,70000]}`, ErrMalformedPayload},
		{"empty", MessageSensor, ``, ErrMalformedPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.DecodeJSON(tc.t, json.RawMessage(tc.data))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeJSONIgnoresExtraFields(t *testing.T) {
	p, err := DefaultRegistry().DecodeJSON(MessageSetTrainSpeed, json.RawMessage(`{"train":3,"speed":50,"note":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, &SetTrainSpeedMsg{Train: 3, Speed: 50}, p)
}

func TestDirectionGating(t *testing.T) {
	reg := DefaultRegistry()

	_, err := reg.DecodeBinaryFrom(Telemetry, MessageSetTrainSpeed, make([]byte, 16))
	assert.ErrorIs(t, err, ErrWrongDirection)

	_, err = reg.DecodeJSONFrom(Command, MessageSensor, json.RawMessage(`{"train":1,"sensor_id":2}`))
	assert.ErrorIs(t, err, ErrWrongDirection)

	_, err = reg.DecodeJSONFrom(Command, 999, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	b, err := SensorMsg{Train: 1, SensorID: 2}.MarshalBinary()
	require.NoError(t, err)
	p, err := reg.DecodeBinaryFrom(Telemetry, MessageSensor, b)
	require.NoError(t, err)
	assert.Equal(t, &SensorMsg{Train: 1, SensorID: 2}, p)
}

func TestRegisterRejectsBadEntries(t *testing.T) {
	reg := DefaultRegistry()
	err := reg.Register(Entry{Type: MessageSensor, Direction: Telemetry, Width: 16, New: func() Payload { return &SensorMsg{} }})
	assert.ErrorIs(t, err, ErrDuplicateType)

	assert.Error(t, reg.Register(Entry{Type: 7, Direction: Telemetry, Width: 0, New: func() Payload { return &SensorMsg{} }}))
	assert.Error(t, reg.Register(Entry{Type: 7, Direction: Telemetry, Width: 4}))
	assert.Error(t, reg.Register(Entry{Type: 7, Width: 4, New: func() Payload { return &SensorMsg{} }}))

	entries := reg.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, MessageSensor, entries[0].Type)
	assert.Equal(t, MessageSetSwitch, entries[3].Type)
}

func TestMaxWidth(t *testing.T) {
	assert.Zero(t, NewRegistry().MaxWidth())

	reg := DefaultRegistry()
	assert.Equal(t, SensorWidth, reg.MaxWidth())

	require.NoError(t, reg.Register(Entry{
		Type: 9000, Name: "wide", Direction: Telemetry, Width: 64,
		New: func() Payload { return &SensorMsg{} },
	}))
	assert.Equal(t, 64, reg.MaxWidth())
}

func TestEncodeBinaryChecksWidth(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Entry{Type: MessageSensor, Name: "sensor", Direction: Telemetry, Width: 8,
		New: func() Payload { return &SensorMsg{} }}))
	_, err := reg.EncodeBinary(&SensorMsg{})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = reg.EncodeBinary(&SetSwitchMsg{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"data":{}}`,
		`{"type":256}`,
		`{"type":256,"data":null}`,
		`{"type":-1,"data":{}}`,
		`{"type":"256","data":{}}`,
	} {
		_, err := DecodeEnvelope([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, in)
	}

	env, err := DecodeEnvelope([]byte(`{"type":256,"data":{"train":3,"speed":50}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageSetTrainSpeed, env.Type)
	assert.JSONEq(t, `{"train":3,"speed":50}`, string(env.Data))
}

func TestMessageTypeStrings(t *testing.T) {
	assert.Equal(t, "sensor", MessageSensor.String())
	assert.Equal(t, "type(999)", MessageType(999).String())
	assert.Equal(t, "command", Command.String())
	assert.Equal(t, "unknown", Direction(0).String())
}
