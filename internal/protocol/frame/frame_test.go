package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func speedPayload(train, speed uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], train)
	binary.LittleEndian.PutUint64(b[8:16], speed)
	return b
}

func TestEncodeLayout(t *testing.T) {
	payload := speedPayload(3, 50)
	out := Encode(256, payload)

	require.Len(t, out, HeaderSize+16)
	assert.Equal(t, []byte{0x69, 0x69}, out[:2])
	assert.Equal(t, []byte{16, 0, 0, 0}, out[2:6])
	assert.Equal(t, []byte{0, 1, 0, 0}, out[6:10])
	assert.Equal(t, payload, out[10:])

	h, err := DecodeHeader(out)
	require.NoError(t, err)
	assert.Equal(t, Header{Length: 16, Type: 256}, h)
}

func TestEncodeEmptyPayload(t *testing.T) {
	out := Encode(7, nil)
	require.Len(t, out, HeaderSize)

	frames, err := NewDecoder().Feed(out)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(7), frames[0].Type)
	assert.Equal(t, uint32(0), frames[0].Length)
	assert.Empty(t, frames[0].Payload)
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	b := Encode(1, []byte{1})
	b[1] = 0x45
	_, err := DecodeHeader(b)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = DecodeHeader(b[:4])
	assert.Error(t, err)
}

func TestFeedWholeFrame(t *testing.T) {
	d := NewDecoder()
	frames, err := d.Feed(Encode(1, speedPayload(3, 7)))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(1), frames[0].Type)
	assert.Equal(t, uint32(16), frames[0].Length)
	assert.Equal(t, speedPayload(3, 7), frames[0].Payload)
	assert.Zero(t, d.Buffered())
}

func TestFeedFragmentationInvariance(t *testing.T) {
	wire := Encode(256, speedPayload(3, 50))
	want, err := NewDecoder().Feed(wire)
	require.NoError(t, err)

	for split := 1; split < len(wire); split++ {
		d := NewDecoder()
		first, err := d.Feed(wire[:split])
		require.NoError(t, err)
		require.Empty(t, first, "split=%d", split)
		second, err := d.Feed(wire[split:])
		require.NoError(t, err)
		require.Equal(t, want, second, "split=%d", split)
	}
}

func TestFeedRandomChunking(t *testing.T) {
	var wire []byte
	var want []Frame
	for i := range 20 {
		p := speedPayload(uint64(i), uint64(i*10))
		wire = append(wire, Encode(uint32(i+1), p)...)
		want = append(want, Frame{Type: uint32(i + 1), Length: 16, Payload: p})
	}

	rng := rand.New(rand.NewSource(1))
	for range 50 {
		d := NewDecoder()
		var got []Frame
		for rest := wire; len(rest) > 0; {
			n := 1 + rng.Intn(min(len(rest), 23))
			frames, err := d.Feed(rest[:n])
			require.NoError(t, err)
			got = append(got, frames...)
			rest = rest[n:]
		}
		require.Equal(t, want, got)
		require.Zero(t, d.Buffered())
	}
}

func TestFeedConcatenated(t *testing.T) {
	var wire []byte
	for i := range 5 {
		wire = append(wire, Encode(uint32(100+i), []byte{byte(i), byte(i)})...)
	}
	frames, err := NewDecoder().Feed(wire)
	require.NoError(t, err)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, uint32(100+i), f.Type)
		assert.Equal(t, []byte{byte(i), byte(i)}, f.Payload)
	}
}

func TestFeedPartialHeaderIsRetained(t *testing.T) {
	wire := Encode(1, speedPayload(1, 2))
	d := NewDecoder()
	for n := 1; n < HeaderSize; n++ {
		d.Reset()
		frames, err := d.Feed(wire[:n])
		require.NoError(t, err)
		assert.Empty(t, frames)
		assert.Equal(t, wire[:n], d.Pending())
	}
}

func TestFeedPartialPayloadIsRetained(t *testing.T) {
	wire := Encode(1, speedPayload(1, 2))
	d := NewDecoder()
	frames, err := d.Feed(wire[:HeaderSize+3])
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, HeaderSize+3, d.Buffered())
}

func TestFeedBadMagicRecoversWithScan(t *testing.T) {
	valid := Encode(1, speedPayload(3, 7))
	garbage := []byte{0x00, 0x01, 0x69, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}

	d := NewDecoder()
	frames, err := d.Feed(append(append([]byte{}, garbage...), valid...))
	require.Error(t, err)

	var ferr *FramingError
	require.True(t, errors.As(err, &ferr))
	assert.ErrorIs(t, err, ErrInvalidMagic)
	assert.Equal(t, uint64(0), ferr.Offset)
	assert.Equal(t, len(garbage), ferr.Discarded)

	require.Len(t, frames, 1)
	assert.Equal(t, speedPayload(3, 7), frames[0].Payload)
	assert.Zero(t, d.Buffered())
}

func TestFeedBadMagicAcrossCalls(t *testing.T) {
	valid := Encode(2, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	d := NewDecoder()

	frames, err := d.Feed(bytes.Repeat([]byte{0xAB}, 12))
	require.Error(t, err)
	assert.Empty(t, frames)
	assert.Zero(t, d.Buffered())

	frames, err = d.Feed(valid)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(2), frames[0].Type)
}

func TestFeedScanKeepsTrailingSentinel(t *testing.T) {
	valid := Encode(1, speedPayload(5, 6))
	garbage := append(bytes.Repeat([]byte{0x11}, 11), Magic0)

	d := NewDecoder()
	frames, err := d.Feed(garbage)
	require.Error(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, []byte{Magic0}, d.Pending())

	frames, err = d.Feed(valid[1:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, speedPayload(5, 6), frames[0].Payload)
}

func TestFeedOversizeLengthIsFramingError(t *testing.T) {
	bogus := []byte{Magic0, Magic1, 0xff, 0xff, 0xff, 0x7f, 1, 0, 0, 0}
	valid := Encode(1, speedPayload(1, 1))

	d := NewDecoder(WithLimits(Limits{MaxPayload: 64}))
	frames, err := d.Feed(append(append([]byte{}, bogus...), valid...))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.Len(t, frames, 1)
	assert.Equal(t, speedPayload(1, 1), frames[0].Payload)
}

func TestFeedRejectsPlausibleLengthOverTightLimit(t *testing.T) {
	// Under the default limit this header would swallow the frames behind it.
	fake := []byte{Magic0, Magic1, 100, 0, 0, 0, 1, 0, 0, 0}
	var stream []byte
	stream = append(stream, fake...)
	for i := range 3 {
		stream = append(stream, Encode(1, speedPayload(uint64(i), 1))...)
	}

	frames, err := NewDecoder().Feed(bytes.Clone(stream))
	require.NoError(t, err)
	assert.Empty(t, frames)

	d := NewDecoder(WithLimits(Limits{MaxPayload: 16}))
	frames, err = d.Feed(stream)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.Len(t, frames, 3)
	for i, f := range frames {
		h, herr := DecodeHeader(Encode(f.Type, f.Payload))
		require.NoError(t, herr)
		assert.Equal(t, Header{Length: 16, Type: 1}, h)
		assert.Equal(t, speedPayload(uint64(i), 1), f.Payload)
	}
	assert.Zero(t, d.Buffered())
}

func TestFeedDiscardPolicyDropsBuffer(t *testing.T) {
	valid := Encode(1, speedPayload(3, 7))
	d := NewDecoder(WithResync(ResyncDiscard))

	frames, err := d.Feed(append([]byte{0xde, 0xad}, valid...))
	require.ErrorIs(t, err, ErrInvalidMagic)
	assert.Empty(t, frames)
	assert.Zero(t, d.Buffered())

	frames, err = d.Feed(valid)
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestFeedBadFrameDoesNotCorruptNeighbours(t *testing.T) {
	a := Encode(1, speedPayload(1, 1))
	b := Encode(1, speedPayload(2, 2))
	wire := append(append(append([]byte{}, a...), 0x00, 0x00, 0x00), b...)

	frames, err := NewDecoder().Feed(wire)
	require.Error(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, speedPayload(1, 1), frames[0].Payload)
	assert.Equal(t, speedPayload(2, 2), frames[1].Payload)
}

func TestFrameChecksumIsStable(t *testing.T) {
	f := Frame{Type: 1, Length: 2, Payload: []byte{1, 2}}
	assert.Equal(t, f.Checksum(), f.Checksum())
	g := Frame{Type: 1, Length: 2, Payload: []byte{1, 3}}
	assert.NotEqual(t, f.Checksum(), g.Checksum())
	assert.Contains(t, f.String(), "type=1 len=2")
}

func TestParseResyncPolicy(t *testing.T) {
	p, err := ParseResyncPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ResyncScan, p)

	p, err = ParseResyncPolicy(" Discard ")
	require.NoError(t, err)
	assert.Equal(t, ResyncDiscard, p)

	_, err = ParseResyncPolicy("rewind")
	assert.Error(t, err)
}
