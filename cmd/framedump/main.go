package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"railbridge/internal/logging"
	"railbridge/internal/protocol"
	"railbridge/internal/protocol/frame"
	"railbridge/internal/serialcomm"
)

// chunkSource is the read side of serialcomm.Device.
type chunkSource interface {
	Run(ctx context.Context, out chan<- []byte) error
}

func main() {
	def := serialcomm.DefaultSerialConfig()
	port := flag.String("port", def.PortName, "serial device")
	baud := flag.Int("baud", def.BaudRate, "baud rate")
	timeout := flag.Duration("timeout", 500*time.Millisecond, "serial read timeout")
	maxPayload := flag.Uint("max-payload", 0, "largest accepted payload in bytes (0: widest registered type)")
	resync := flag.String("resync", "scan", "resync policy after a bad header: scan|discard")
	flag.Parse()

	logging.Configure(logging.DefaultConfig())

	policy, err := frame.ParseResyncPolicy(*resync)
	if err != nil {
		log.Fatal().Err(err).Msg("bad -resync")
	}

	cfg := def
	cfg.PortName = *port
	cfg.BaudRate = *baud
	cfg.ReadTimeout = *timeout
	p, err := serialcomm.OpenPort(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open serial port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("port", cfg.PortName).Int("baud", cfg.BaudRate).Msg("listening for frames")
	reg := protocol.DefaultRegistry()
	dec := frame.NewDecoder(
		frame.WithLimits(payloadLimits(reg, *maxPayload)),
		frame.WithResync(policy),
	)
	dev := serialcomm.NewDevice(p, cfg, serialcomm.WithLogger(log.Logger))
	if err := dump(ctx, dev, dec, reg, os.Stdout, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("framedump stopped")
	}
}

// payloadLimits falls back to the widest registered payload when flagged is 0.
func payloadLimits(reg *protocol.Registry, flagged uint) frame.Limits {
	if flagged > 0 {
		return frame.Limits{MaxPayload: uint32(flagged)}
	}
	return frame.Limits{MaxPayload: uint32(reg.MaxWidth())}
}

// dump prints one line per decoded frame until src stops. Known types are
// printed as JSON envelopes; anything else as a hex line with its checksum.
func dump(ctx context.Context, src chunkSource, dec *frame.Decoder, reg *protocol.Registry, w io.Writer, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []byte, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Run(ctx, chunks)
		cancel()
	}()

	feed := func(chunk []byte) error {
		frames, err := dec.Feed(chunk)
		if err != nil {
			logger.Warn().Err(err).Msg("framing error")
		}
		for _, f := range frames {
			if err := printFrame(w, reg, f); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			// src has stopped sending; print what it already delivered
			for {
				select {
				case chunk := <-chunks:
					if err := feed(chunk); err != nil {
						return err
					}
				default:
					return <-errCh
				}
			}
		case chunk := <-chunks:
			if err := feed(chunk); err != nil {
				return err
			}
		}
	}
}

func printFrame(w io.Writer, reg *protocol.Registry, f frame.Frame) error {
	t := protocol.MessageType(f.Type)
	p, err := reg.DecodeBinary(t, f.Payload)
	if err == nil {
		var env []byte
		if env, err = protocol.EncodeEnvelope(p); err == nil {
			_, err = fmt.Fprintf(w, "%s\n", env)
			return err
		}
	}
	reason := "undecodable"
	if errors.Is(err, protocol.ErrUnknownType) {
		reason = "unknown"
	}
	_, err = fmt.Fprintf(w, "%s type=%d len=%d crc=%04x payload=%x\n", reason, f.Type, f.Length, f.Checksum(), f.Payload)
	return err
}
