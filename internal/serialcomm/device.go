package serialcomm

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Device owns a Port. Only the goroutine running Run touches the port;
// writers hand encoded frames over through Submit.
type Device struct {
	port   Port
	cfg    SerialConfig
	logger zerolog.Logger

	writes chan []byte
	done   chan struct{}

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

type DeviceOption func(*Device)

func WithLogger(l zerolog.Logger) DeviceOption {
	return func(d *Device) {
		d.logger = l
	}
}

func NewDevice(port Port, cfg SerialConfig, opts ...DeviceOption) *Device {
	cfg = cfg.withDefaults()
	d := &Device{
		port:   port,
		cfg:    cfg,
		logger: log.Logger,
		writes: make(chan []byte, cfg.WriteQueue),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("port", cfg.PortName).Logger()
	return d
}

// Submit queues an encoded frame for a paced write. It blocks while the write
// queue is full.
func (d *Device) Submit(ctx context.Context, b []byte) error {
	select {
	case <-d.done:
		return ErrDeviceClosed
	default:
	}
	select {
	case d.writes <- b:
		return nil
	case <-d.done:
		return ErrDeviceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls the port and serves queued writes until ctx ends or the port
// fails. Received chunks are sent on out in arrival order. The port is
// closed when Run returns; a nil return means ctx was cancelled.
func (d *Device) Run(ctx context.Context, out chan<- []byte) error {
	defer close(d.done)
	defer func() {
		if err := d.port.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("serial close")
		}
	}()

	d.logger.Info().Int("baud", d.cfg.BaudRate).Dur("write_delay", d.cfg.WriteDelay).Msg("serial device started")
	r := newReceiver(d)
	for {
		// at most one queued write between read polls
		select {
		case <-ctx.Done():
			return nil
		case b := <-d.writes:
			if err := d.send(ctx, b); err != nil {
				return d.stopErr(ctx, err)
			}
		default:
		}

		chunk, err := r.poll()
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			continue
		}
		if err := d.deliver(ctx, out, chunk); err != nil {
			return d.stopErr(ctx, err)
		}
	}
}

// deliver hands chunk to the consumer while still serving writes, so a
// stalled telemetry queue cannot block the command path.
func (d *Device) deliver(ctx context.Context, out chan<- []byte, chunk []byte) error {
	for {
		select {
		case out <- chunk:
			return nil
		case b := <-d.writes:
			if err := d.send(ctx, b); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Device) stopErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Counters reports total bytes moved through the port.
func (d *Device) Counters() (read, written uint64) {
	return d.bytesRead.Load(), d.bytesWritten.Load()
}
