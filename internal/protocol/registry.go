package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Entry describes one registered message type.
type Entry struct {
	Type      MessageType
	Name      string
	Direction Direction
	Width     int
	New       func() Payload
}

// Registry maps type codes to payload schemas. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[MessageType]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[MessageType]Entry)}
}

// DefaultRegistry holds the railway controller's message set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, e := range []Entry{
		{Type: MessageSensor, Name: "sensor", Direction: Telemetry, Width: SensorWidth,
			New: func() Payload { return &SensorMsg{} }},
		{Type: MessageSwitch, Name: "switch", Direction: Telemetry, Width: SwitchWidth,
			New: func() Payload { return &SwitchMsg{} }},
		{Type: MessageSetTrainSpeed, Name: "set_train_speed", Direction: Command, Width: SetTrainSpeedWidth,
			New: func() Payload { return &SetTrainSpeedMsg{} }},
		{Type: MessageSetSwitch, Name: "set_switch", Direction: Command, Width: SetSwitchWidth,
			New: func() Payload { return &SetSwitchMsg{} }},
	} {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds an entry. Codes may only be registered once.
func (r *Registry) Register(e Entry) error {
	if e.Width <= 0 {
		return fmt.Errorf("protocol: register %s: width must be positive", e.Type)
	}
	if e.New == nil {
		return fmt.Errorf("protocol: register %s: missing constructor", e.Type)
	}
	if e.Direction != Telemetry && e.Direction != Command {
		return fmt.Errorf("protocol: register %s: invalid direction", e.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Type]; ok {
		return typeErr(e.Type, ErrDuplicateType)
	}
	r.entries[e.Type] = e
	return nil
}

func (r *Registry) Lookup(t MessageType) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// Entries lists registered types in code order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// MaxWidth is the largest registered payload width, or zero when empty.
// Any longer length field on the wire cannot belong to a known type.
func (r *Registry) MaxWidth() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var w int
	for _, e := range r.entries {
		w = max(w, e.Width)
	}
	return w
}

// Expect resolves t and checks that it may travel in dir.
func (r *Registry) Expect(t MessageType, dir Direction) (Entry, error) {
	e, ok := r.Lookup(t)
	if !ok {
		return Entry{}, typeErr(t, ErrUnknownType)
	}
	if e.Direction != dir {
		return Entry{}, typeErr(t, fmt.Errorf("%w: %s is %s, want %s", ErrWrongDirection, e.Name, e.Direction, dir))
	}
	return e, nil
}

// DecodeBinary decodes a wire payload of type t.
func (r *Registry) DecodeBinary(t MessageType, b []byte) (Payload, error) {
	e, ok := r.Lookup(t)
	if !ok {
		return nil, typeErr(t, ErrUnknownType)
	}
	return decodeBinary(e, b)
}

// DecodeBinaryFrom is DecodeBinary restricted to types of direction dir.
func (r *Registry) DecodeBinaryFrom(dir Direction, t MessageType, b []byte) (Payload, error) {
	e, err := r.Expect(t, dir)
	if err != nil {
		return nil, err
	}
	return decodeBinary(e, b)
}

// DecodeJSON decodes the data object of an envelope of type t.
func (r *Registry) DecodeJSON(t MessageType, raw json.RawMessage) (Payload, error) {
	e, ok := r.Lookup(t)
	if !ok {
		return nil, typeErr(t, ErrUnknownType)
	}
	return decodeJSON(e, raw)
}

// DecodeJSONFrom is DecodeJSON restricted to types of direction dir.
func (r *Registry) DecodeJSONFrom(dir Direction, t MessageType, raw json.RawMessage) (Payload, error) {
	e, err := r.Expect(t, dir)
	if err != nil {
		return nil, err
	}
	return decodeJSON(e, raw)
}

// EncodeBinary serializes p and checks it against the registered width.
func (r *Registry) EncodeBinary(p Payload) ([]byte, error) {
	t := p.MessageType()
	e, ok := r.Lookup(t)
	if !ok {
		return nil, typeErr(t, ErrUnknownType)
	}
	b, err := p.MarshalBinary()
	if err != nil {
		return nil, typeErr(t, err)
	}
	if len(b) != e.Width {
		return nil, malformed(t, "encoded %d bytes, registered width %d", len(b), e.Width)
	}
	return b, nil
}

func decodeBinary(e Entry, b []byte) (Payload, error) {
	if len(b) != e.Width {
		return nil, malformed(e.Type, "want %d bytes, got %d", e.Width, len(b))
	}
	p := e.New()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, asTypeErr(e.Type, err)
	}
	return p, nil
}

func decodeJSON(e Entry, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, malformed(e.Type, "missing data")
	}
	p := e.New()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, asTypeErr(e.Type, err)
	}
	return p, nil
}

func asTypeErr(t MessageType, err error) error {
	var te *TypeError
	if errors.As(err, &te) {
		return err
	}
	return malformed(t, "%v", err)
}
