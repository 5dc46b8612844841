package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ResyncPolicy selects how the decoder recovers from a framing error.
type ResyncPolicy int

const (
	// ResyncScan drops bytes up to the next magic sentinel in the buffer.
	ResyncScan ResyncPolicy = iota
	// ResyncDiscard drops the whole buffer and waits for a fresh header.
	ResyncDiscard
)

func (p ResyncPolicy) String() string {
	switch p {
	case ResyncScan:
		return "scan"
	case ResyncDiscard:
		return "discard"
	default:
		return fmt.Sprintf("resync(%d)", int(p))
	}
}

// ParseResyncPolicy maps a config value to a policy.
func ParseResyncPolicy(raw string) (ResyncPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "scan":
		return ResyncScan, nil
	case "discard":
		return ResyncDiscard, nil
	default:
		return 0, fmt.Errorf("frame: unknown resync policy %q", raw)
	}
}

// FramingError reports a header that could not start a valid frame.
// Offset is the stream position of the rejected header and Discarded the
// number of bytes dropped to resynchronize.
type FramingError struct {
	Reason    error
	Offset    uint64
	Discarded int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%v at offset %d (discarded %d bytes)", e.Reason, e.Offset, e.Discarded)
}

func (e *FramingError) Unwrap() error {
	return e.Reason
}

// Option configures a Decoder.
type Option func(*Decoder)

func WithLimits(l Limits) Option {
	return func(d *Decoder) {
		if l.MaxPayload > 0 {
			d.limits = l
		}
	}
}

func WithResync(p ResyncPolicy) Option {
	return func(d *Decoder) {
		d.resync = p
	}
}

// Decoder reassembles frames from an arbitrarily fragmented byte stream.
// It is not safe for concurrent use; one decoder belongs to one session.
type Decoder struct {
	buf      []byte
	limits   Limits
	resync   ResyncPolicy
	consumed uint64
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{limits: DefaultLimits(), resync: ResyncScan}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends p to the pending buffer and extracts every complete frame.
// Framing errors do not stop extraction; they are joined into the returned
// error alongside the frames that were decoded.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	d.buf = append(d.buf, p...)

	var (
		frames []Frame
		errs   []error
	)
	for len(d.buf) >= HeaderSize {
		hdr, err := DecodeHeader(d.buf)
		if err != nil {
			errs = append(errs, d.resynchronize(ErrInvalidMagic))
			continue
		}
		if hdr.Length > d.limits.MaxPayload {
			errs = append(errs, d.resynchronize(ErrPayloadTooLarge))
			continue
		}
		total := HeaderSize + int(hdr.Length)
		if len(d.buf) < total {
			break
		}

		frames = append(frames, Frame{
			Type:    hdr.Type,
			Length:  hdr.Length,
			Payload: bytes.Clone(d.buf[HeaderSize:total]),
		})
		d.drain(total)
	}
	return frames, errors.Join(errs...)
}

// Buffered reports how many bytes are waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Pending returns a copy of the buffered bytes.
func (d *Decoder) Pending() []byte {
	return bytes.Clone(d.buf)
}

// Reset drops all buffered bytes.
func (d *Decoder) Reset() {
	d.consumed += uint64(len(d.buf))
	d.buf = d.buf[:0]
}

func (d *Decoder) resynchronize(reason error) *FramingError {
	ferr := &FramingError{Reason: reason, Offset: d.consumed}

	n := len(d.buf)
	if d.resync == ResyncScan {
		if i := bytes.Index(d.buf[1:], []byte{Magic0, Magic1}); i >= 0 {
			n = i + 1
		} else if d.buf[len(d.buf)-1] == Magic0 {
			// a lone trailing sentinel byte may begin the next header
			n = len(d.buf) - 1
		}
	}
	ferr.Discarded = n
	d.drain(n)
	return ferr
}

// drain removes n bytes from the front, reusing the backing array.
func (d *Decoder) drain(n int) {
	d.consumed += uint64(n)
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
