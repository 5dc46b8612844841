package bridge

import (
	"errors"
	"sync/atomic"

	"railbridge/internal/protocol"
)

// Drop reasons, also used as metric labels.
const (
	ReasonUnknownType       = "unknown_type"
	ReasonMalformedPayload  = "malformed_payload"
	ReasonWrongDirection    = "wrong_direction"
	ReasonMalformedEnvelope = "malformed_envelope"
	ReasonEncode            = "encode"
)

var dropReasons = []string{
	ReasonUnknownType,
	ReasonMalformedPayload,
	ReasonWrongDirection,
	ReasonMalformedEnvelope,
	ReasonEncode,
}

// Stats counts bridge activity. A Stats may be shared by consecutive sessions.
type Stats struct {
	framesDecoded      atomic.Uint64
	telemetryForwarded atomic.Uint64
	commandsForwarded  atomic.Uint64
	framingErrors      atomic.Uint64
	serialBytesRead    atomic.Uint64
	serialBytesWritten atomic.Uint64
	dropped            [5]atomic.Uint64
}

type Snapshot struct {
	FramesDecoded      uint64            `json:"frames_decoded"`
	TelemetryForwarded uint64            `json:"telemetry_forwarded"`
	CommandsForwarded  uint64            `json:"commands_forwarded"`
	FramingErrors      uint64            `json:"framing_errors"`
	SerialBytesRead    uint64            `json:"serial_bytes_read"`
	SerialBytesWritten uint64            `json:"serial_bytes_written"`
	Dropped            map[string]uint64 `json:"dropped"`
}

func (s *Stats) Snapshot() Snapshot {
	out := Snapshot{
		FramesDecoded:      s.framesDecoded.Load(),
		TelemetryForwarded: s.telemetryForwarded.Load(),
		CommandsForwarded:  s.commandsForwarded.Load(),
		FramingErrors:      s.framingErrors.Load(),
		SerialBytesRead:    s.serialBytesRead.Load(),
		SerialBytesWritten: s.serialBytesWritten.Load(),
		Dropped:            make(map[string]uint64, len(dropReasons)),
	}
	for i, reason := range dropReasons {
		out.Dropped[reason] = s.dropped[i].Load()
	}
	return out
}

// TotalDropped sums every drop reason.
func (s Snapshot) TotalDropped() uint64 {
	var n uint64
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

func (s *Stats) addDropped(reason string) {
	for i, r := range dropReasons {
		if r == reason {
			s.dropped[i].Add(1)
			return
		}
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return ReasonUnknownType
	case errors.Is(err, protocol.ErrWrongDirection):
		return ReasonWrongDirection
	case errors.Is(err, protocol.ErrMalformedEnvelope):
		return ReasonMalformedEnvelope
	case errors.Is(err, protocol.ErrMalformedPayload):
		return ReasonMalformedPayload
	default:
		return ReasonEncode
	}
}
