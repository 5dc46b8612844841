// Package frame implements the serial wire framing used by the railway
// controller: a 2-byte magic sentinel, a little-endian u32 payload length, a
// little-endian u32 message type and the payload bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

const (
	Magic0 byte = 0x69
	Magic1 byte = 0x69

	MagicLen   = 2
	LengthLen  = 4
	TypeLen    = 4
	HeaderSize = MagicLen + LengthLen + TypeLen

	DefaultMaxPayload uint32 = 4096
)

var (
	ErrInvalidMagic    = errors.New("frame: invalid magic")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

var checksumTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Frame is one complete wire message. Length is the declared payload length
// and always equals len(Payload) for decoded frames.
type Frame struct {
	Type    uint32
	Length  uint32
	Payload []byte
}

// Bytes re-encodes the frame.
func (f Frame) Bytes() []byte {
	return Encode(f.Type, f.Payload)
}

// Checksum is a CRC-16/MODBUS over the encoded frame. It is not part of the
// wire format; it only tags frames in logs.
func (f Frame) Checksum() uint16 {
	return crc16.Checksum(f.Bytes(), checksumTable)
}

func (f Frame) String() string {
	return fmt.Sprintf("frame{type=%d len=%d crc=%04x}", f.Type, f.Length, f.Checksum())
}

// Limits bounds what the decoder accepts.
type Limits struct {
	MaxPayload uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayload: DefaultMaxPayload}
}

// Encode serializes msgType and payload into a wire frame.
func Encode(msgType uint32, payload []byte) []byte {
	return AppendEncode(make([]byte, 0, HeaderSize+len(payload)), msgType, payload)
}

// AppendEncode appends the wire form of (msgType, payload) to dst.
func AppendEncode(dst []byte, msgType uint32, payload []byte) []byte {
	dst = append(dst, Magic0, Magic1)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = binary.LittleEndian.AppendUint32(dst, msgType)
	return append(dst, payload...)
}

// Header is the decoded fixed header.
type Header struct {
	Length uint32
	Type   uint32
}

// DecodeHeader parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("frame: short header: %d bytes", len(b))
	}
	if b[0] != Magic0 || b[1] != Magic1 {
		return Header{}, ErrInvalidMagic
	}
	return Header{
		Length: binary.LittleEndian.Uint32(b[MagicLen : MagicLen+LengthLen]),
		Type:   binary.LittleEndian.Uint32(b[MagicLen+LengthLen : HeaderSize]),
	}, nil
}
