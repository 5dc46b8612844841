package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the JSON shape exchanged with the server:
// {"type": <code>, "data": {...}}. Direction is implied by the sender.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope parses an envelope without interpreting data.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var raw struct {
		Type *uint32        `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Type == nil {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if len(raw.Data) == 0 || bytes.Equal(raw.Data, []byte("null")) {
		return Envelope{}, fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	return Envelope{Type: MessageType(*raw.Type), Data: raw.Data}, nil
}

// EncodeEnvelope wraps p in an envelope carrying its type code.
func EncodeEnvelope(p Payload) ([]byte, error) {
	out, err := json.Marshal(struct {
		Type uint32  `json:"type"`
		Data Payload `json:"data"`
	}{Type: uint32(p.MessageType()), Data: p})
	if err != nil {
		return nil, typeErr(p.MessageType(), err)
	}
	return out, nil
}
