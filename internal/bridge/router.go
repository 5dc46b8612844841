package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"railbridge/internal/observability"
	"railbridge/internal/protocol"
	"railbridge/internal/protocol/frame"
)

// ingest turns raw serial chunks into frames. Framing errors are counted and
// the decoder resynchronizes on its own. On cancellation it returns the
// decoded frames it could not enqueue, in order.
func (b *Bridge) ingest(ctx context.Context, dec *frame.Decoder, chunks <-chan []byte, frames chan<- frame.Frame) []frame.Frame {
	for {
		var chunk []byte
		select {
		case <-ctx.Done():
			return nil
		case chunk = <-chunks:
		}

		decoded, err := dec.Feed(chunk)
		if err != nil {
			b.recordFramingErrors(err)
		}
		for i, f := range decoded {
			select {
			case frames <- f:
			case <-ctx.Done():
				return decoded[i:]
			}
			b.stats.framesDecoded.Add(1)
			observability.RecordFrameDecoded(b.typeLabel(protocol.MessageType(f.Type)))
		}
	}
}

// typeLabel keeps metric cardinality bounded by the registry.
func (b *Bridge) typeLabel(t protocol.MessageType) string {
	if _, ok := b.reg.Lookup(t); ok {
		return t.String()
	}
	return "unknown"
}

func (b *Bridge) recordFramingErrors(err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		reason := "other"
		switch {
		case errors.Is(e, frame.ErrInvalidMagic):
			reason = "invalid_magic"
		case errors.Is(e, frame.ErrPayloadTooLarge):
			reason = "payload_too_large"
		}
		b.stats.framingErrors.Add(1)
		observability.RecordFramingError(reason)
		b.logger.Warn().Err(e).Str("reason", reason).Msg("framing error, resynchronizing")
	}
}

// route is the only writer to the link. Go's select picks uniformly among
// ready cases, so neither flow can starve the other.
func (b *Bridge) route(ctx context.Context, frames <-chan frame.Frame, inbound <-chan []byte, cancel context.CancelCauseFunc) {
	// a message taken off a queue is finished even if the session is ending
	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			if err := b.forwardTelemetry(work, f); err != nil {
				cancel(err)
				return
			}
		case msg := <-inbound:
			if err := b.forwardCommand(ctx, msg); err != nil {
				cancel(err)
				return
			}
		}
	}
}

// forwardTelemetry returns an error only when the link write fails.
func (b *Bridge) forwardTelemetry(ctx context.Context, f frame.Frame) error {
	t := protocol.MessageType(f.Type)
	p, err := b.reg.DecodeBinaryFrom(protocol.Telemetry, t, f.Payload)
	if err != nil {
		b.drop(protocol.Telemetry, err, func(ev *zerolog.Event) {
			ev.Uint32("len", f.Length).Str("checksum", fmt.Sprintf("%04x", f.Checksum()))
		})
		return nil
	}
	env, err := protocol.EncodeEnvelope(p)
	if err != nil {
		b.drop(protocol.Telemetry, err, nil)
		return nil
	}
	if err := b.link.WriteMessage(ctx, env); err != nil {
		return fmt.Errorf("%w: %w", ErrLink, err)
	}
	b.stats.telemetryForwarded.Add(1)
	observability.RecordForwarded(protocol.Telemetry.String(), t.String())
	b.logger.Debug().Stringer("type", t).RawJSON("envelope", env).Msg("telemetry forwarded")
	return nil
}

// forwardCommand returns an error only when the device refuses the write.
func (b *Bridge) forwardCommand(ctx context.Context, msg []byte) error {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		b.drop(protocol.Command, err, func(ev *zerolog.Event) {
			ev.Int("bytes", len(msg))
		})
		return nil
	}
	p, err := b.reg.DecodeJSONFrom(protocol.Command, env.Type, env.Data)
	if err != nil {
		b.drop(protocol.Command, err, nil)
		return nil
	}
	payload, err := b.reg.EncodeBinary(p)
	if err != nil {
		b.drop(protocol.Command, err, nil)
		return nil
	}
	wire := frame.Encode(uint32(env.Type), payload)
	if err := b.dev.Submit(ctx, wire); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrSerial, err)
	}
	b.stats.commandsForwarded.Add(1)
	observability.RecordForwarded(protocol.Command.String(), env.Type.String())
	b.logger.Debug().Stringer("type", env.Type).Int("bytes", len(wire)).Msg("command queued")
	return nil
}

func (b *Bridge) drop(dir protocol.Direction, err error, fields func(ev *zerolog.Event)) {
	reason := dropReason(err)
	b.stats.addDropped(reason)
	observability.RecordDropped(dir.String(), reason)

	ev := b.logger.Warn().Err(err).Str("direction", dir.String()).Str("reason", reason)
	var te *protocol.TypeError
	if errors.As(err, &te) {
		ev = ev.Uint32("type", uint32(te.Type))
	}
	if fields != nil {
		fields(ev)
	}
	ev.Msg("message dropped")
}
