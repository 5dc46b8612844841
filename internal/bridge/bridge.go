// Package bridge moves messages between the serial controller and the
// network link. Telemetry frames become JSON envelopes; JSON commands become
// paced serial frames.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"railbridge/internal/protocol"
	"railbridge/internal/protocol/frame"
)

var (
	ErrSerial = errors.New("bridge: serial transport failed")
	ErrLink   = errors.New("bridge: network link failed")
)

// SerialDevice is the serial side. Run owns the port until it returns and
// delivers raw chunks on out; Submit queues an encoded frame for writing.
type SerialDevice interface {
	Run(ctx context.Context, out chan<- []byte) error
	Submit(ctx context.Context, b []byte) error
}

// Link is the network side. Close must unblock a pending ReadMessage.
type Link interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, b []byte) error
	Close() error
}

type Config struct {
	ChunkQueue   int
	FrameQueue   int
	InboundQueue int
	DrainTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChunkQueue:   64,
		FrameQueue:   256,
		InboundQueue: 256,
		DrainTimeout: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ChunkQueue <= 0 {
		c.ChunkQueue = def.ChunkQueue
	}
	if c.FrameQueue <= 0 {
		c.FrameQueue = def.FrameQueue
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = def.InboundQueue
	}
	if c.DrainTimeout < 0 {
		c.DrainTimeout = 0
	}
	return c
}

// Bridge is one session over an opened device and a connected link.
type Bridge struct {
	cfg     Config
	dev     SerialDevice
	link    Link
	reg     *protocol.Registry
	decOpts []frame.Option
	stats   *Stats
	logger  zerolog.Logger

	// folded is set once the device byte counters were added to stats.
	mu     sync.Mutex
	folded bool
}

// byteCounter is implemented by devices that count serial traffic.
type byteCounter interface {
	Counters() (read, written uint64)
}

type Option func(*Bridge)

func WithRegistry(r *protocol.Registry) Option {
	return func(b *Bridge) {
		b.reg = r
	}
}

func WithDecoderOptions(opts ...frame.Option) Option {
	return func(b *Bridge) {
		b.decOpts = append(b.decOpts, opts...)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithStats makes the session count into s instead of a private Stats.
func WithStats(s *Stats) Option {
	return func(b *Bridge) {
		b.stats = s
	}
}

func New(cfg Config, dev SerialDevice, link Link, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:    cfg.withDefaults(),
		dev:    dev,
		link:   link,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.reg == nil {
		b.reg = protocol.DefaultRegistry()
	}
	if b.stats == nil {
		b.stats = &Stats{}
	}
	// Nothing longer than the widest registered payload can be a valid
	// frame. An explicit WithLimits in opts still overrides this.
	if w := b.reg.MaxWidth(); w > 0 {
		b.decOpts = append([]frame.Option{frame.WithLimits(frame.Limits{MaxPayload: uint32(w)})}, b.decOpts...)
	}
	return b
}

// Stats includes the serial traffic of a session that is still running.
func (b *Bridge) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.stats.Snapshot()
	if bc, ok := b.dev.(byteCounter); ok && !b.folded {
		read, written := bc.Counters()
		snap.SerialBytesRead += read
		snap.SerialBytesWritten += written
	}
	return snap
}

func (b *Bridge) foldCounters() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.folded {
		return
	}
	b.folded = true
	if bc, ok := b.dev.(byteCounter); ok {
		read, written := bc.Counters()
		b.stats.serialBytesRead.Add(read)
		b.stats.serialBytesWritten.Add(written)
	}
}

// Run bridges until ctx is cancelled or a transport fails. It returns nil on
// cancellation and otherwise the first failure, wrapped as ErrSerial or
// ErrLink. The link is closed and the device stopped before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	chunks := make(chan []byte, b.cfg.ChunkQueue)
	frames := make(chan frame.Frame, b.cfg.FrameQueue)
	inbound := make(chan []byte, b.cfg.InboundQueue)
	dec := frame.NewDecoder(b.decOpts...)

	var transports, workers sync.WaitGroup
	var pending []frame.Frame

	transports.Add(2)
	go func() {
		defer transports.Done()
		err := b.dev.Run(ctx, chunks)
		if err == nil {
			err = errors.New("device stopped")
		}
		cancel(fmt.Errorf("%w: %w", ErrSerial, err))
	}()
	go func() {
		defer transports.Done()
		b.readLink(ctx, inbound, cancel)
	}()

	workers.Add(2)
	go func() {
		defer workers.Done()
		pending = b.ingest(ctx, dec, chunks, frames)
	}()
	go func() {
		defer workers.Done()
		b.route(ctx, frames, inbound, cancel)
	}()

	b.logger.Info().Msg("bridge session started")
	<-ctx.Done()
	workers.Wait()

	cause := context.Cause(ctx)
	var err error
	if errors.Is(cause, ErrSerial) || errors.Is(cause, ErrLink) {
		err = cause
	}
	if !errors.Is(cause, ErrLink) {
		b.drain(frames, pending)
	}
	if cerr := b.link.Close(); cerr != nil {
		b.logger.Debug().Err(cerr).Msg("link close")
	}
	transports.Wait()
	b.foldCounters()

	ev := b.logger.Info()
	if err != nil {
		ev = b.logger.Warn().Err(err)
	}
	ev.Interface("stats", b.stats.Snapshot()).Msg("bridge session ended")
	return err
}

func (b *Bridge) readLink(ctx context.Context, inbound chan<- []byte, cancel context.CancelCauseFunc) {
	for {
		msg, err := b.link.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				cancel(fmt.Errorf("%w: %w", ErrLink, err))
			}
			return
		}
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// drain flushes frames that were already decoded, bounded by DrainTimeout.
// Queued frames go first, then pending ones that ingest could not enqueue.
func (b *Bridge) drain(frames <-chan frame.Frame, pending []frame.Frame) {
	if b.cfg.DrainTimeout <= 0 || len(frames)+len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainTimeout)
	defer cancel()

	flushed := 0
	forward := func(f frame.Frame) bool {
		if err := b.forwardTelemetry(ctx, f); err != nil {
			b.logger.Warn().Err(err).Int("flushed", flushed).Msg("drain aborted")
			return false
		}
		flushed++
		return true
	}
	for queued := true; queued; {
		select {
		case f := <-frames:
			if !forward(f) {
				return
			}
		default:
			queued = false
		}
	}
	for _, f := range pending {
		if !forward(f) {
			return
		}
	}
	b.logger.Debug().Int("flushed", flushed).Msg("drained decoded frames")
}
