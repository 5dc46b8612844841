package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"railbridge/internal/logging"
	"railbridge/internal/protocol"
	"railbridge/internal/protocol/frame"
	"railbridge/internal/serialcomm"
)

func main() {
	def := serialcomm.DefaultSerialConfig()
	port := flag.String("port", def.PortName, "serial device")
	baud := flag.Int("baud", def.BaudRate, "baud rate")
	delay := flag.Duration("delay", def.WriteDelay, "pause after each written byte")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: framesend [flags] ['{\"type\":256,\"data\":{...}}']\n")
		fmt.Fprintln(flag.CommandLine.Output(), "reads the envelope from stdin when no argument is given")
		flag.PrintDefaults()
	}
	flag.Parse()

	logging.Configure(logging.DefaultConfig())

	raw, err := readEnvelope(flag.Args(), os.Stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("no envelope")
	}
	wire, t, err := encodeCommand(protocol.DefaultRegistry(), raw)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid command")
	}

	cfg := def
	cfg.PortName = *port
	cfg.BaudRate = *baud
	p, err := serialcomm.OpenPort(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open serial port")
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := serialcomm.WritePaced(ctx, p, wire, *delay)
	if err != nil {
		log.Error().Err(err).Int("written", n).Msg("write failed")
		return
	}
	f := frame.Frame{Type: uint32(t), Length: uint32(len(wire) - frame.HeaderSize), Payload: wire[frame.HeaderSize:]}
	log.Info().
		Stringer("type", t).
		Int("bytes", n).
		Str("checksum", fmt.Sprintf("%04x", f.Checksum())).
		Str("port", cfg.PortName).
		Msg("frame sent")
}

func readEnvelope(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) > 0 {
		return []byte(args[0]), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return b, nil
}

// encodeCommand validates raw as a command envelope and returns its frame.
func encodeCommand(reg *protocol.Registry, raw []byte) ([]byte, protocol.MessageType, error) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return nil, 0, err
	}
	p, err := reg.DecodeJSONFrom(protocol.Command, env.Type, env.Data)
	if err != nil {
		return nil, env.Type, err
	}
	payload, err := reg.EncodeBinary(p)
	if err != nil {
		return nil, env.Type, err
	}
	return frame.Encode(uint32(env.Type), payload), env.Type, nil
}
