package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"railbridge/internal/observability"
)

// OpenDeviceFunc opens the serial side for one session.
type OpenDeviceFunc func(ctx context.Context) (SerialDevice, error)

// DialLinkFunc connects the network side for one session.
type DialLinkFunc func(ctx context.Context) (Link, error)

type SupervisorConfig struct {
	Bridge  Config
	Backoff BackoffConfig
	// Reconnect false runs a single session.
	Reconnect bool
	// MaxAttempts bounds consecutive sessions that failed to come up;
	// 0 retries forever.
	MaxAttempts int
}

// Supervisor runs bridge sessions back to back. Each session gets a fresh
// device, link and decoder, so no partial frame survives a reconnect.
type Supervisor struct {
	cfg    SupervisorConfig
	open   OpenDeviceFunc
	dial   DialLinkFunc
	opts   []Option
	stats  *Stats
	logger zerolog.Logger
	rng    *rand.Rand

	connected atomic.Bool
	sessions  atomic.Uint64
	current   atomic.Pointer[Bridge]

	mu        sync.Mutex
	lastErr   string
	lastStart time.Time
}

type SupervisorOption func(*Supervisor)

func WithSupervisorLogger(l zerolog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithSessionOptions passes opts to every Bridge the supervisor builds.
func WithSessionOptions(opts ...Option) SupervisorOption {
	return func(s *Supervisor) {
		s.opts = append(s.opts, opts...)
	}
}

func WithRand(rng *rand.Rand) SupervisorOption {
	return func(s *Supervisor) {
		s.rng = rng
	}
}

func NewSupervisor(cfg SupervisorConfig, open OpenDeviceFunc, dial DialLinkFunc, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		open:   open,
		dial:   dial,
		stats:  &Stats{},
		logger: log.Logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run returns nil once ctx is cancelled. Without reconnect it returns the
// single session's error; otherwise it returns only after MaxAttempts
// consecutive sessions failed to come up.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0
	for {
		established, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.setLastErr(err)
		}
		if !s.cfg.Reconnect {
			return err
		}

		if established {
			failures = 0
		}
		failures++
		if s.cfg.MaxAttempts > 0 && failures >= s.cfg.MaxAttempts && !established {
			return fmt.Errorf("bridge: giving up after %d attempts: %w", failures, err)
		}

		delay := NextBackoffDelay(s.cfg.Backoff, failures, s.rng)
		s.logger.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("bridge session ended, reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session reports whether both transports came up, and why it ended.
func (s *Supervisor) session(ctx context.Context) (bool, error) {
	link, err := s.dial(ctx)
	if err != nil {
		observability.RecordSession("dial_failed")
		return false, fmt.Errorf("%w: %w", ErrLink, err)
	}
	dev, err := s.open(ctx)
	if err != nil {
		_ = link.Close()
		observability.RecordSession("open_failed")
		return false, fmt.Errorf("%w: %w", ErrSerial, err)
	}

	n := s.sessions.Add(1)
	s.mu.Lock()
	s.lastStart = time.Now()
	s.mu.Unlock()

	opts := append([]Option{
		WithStats(s.stats),
		WithLogger(s.logger.With().Uint64("session", n).Logger()),
	}, s.opts...)
	b := New(s.cfg.Bridge, dev, link, opts...)

	s.current.Store(b)
	s.connected.Store(true)
	err = b.Run(ctx)
	s.connected.Store(false)
	s.current.Store(nil)

	switch {
	case err == nil:
		observability.RecordSession("stopped")
	case errors.Is(err, ErrSerial):
		observability.RecordSession("serial_error")
	default:
		observability.RecordSession("link_error")
	}
	return true, err
}

func (s *Supervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// Healthy reports whether a session is currently bridging.
func (s *Supervisor) Healthy() bool {
	return s.connected.Load()
}

type SupervisorSnapshot struct {
	Connected bool      `json:"connected"`
	Sessions  uint64    `json:"sessions"`
	LastError string    `json:"last_error,omitempty"`
	LastStart time.Time `json:"last_start,omitzero"`
	Stats     Snapshot  `json:"stats"`
}

func (s *Supervisor) Snapshot() any {
	return s.SupervisorSnapshot()
}

func (s *Supervisor) SupervisorSnapshot() SupervisorSnapshot {
	stats := s.stats.Snapshot()
	if b := s.current.Load(); b != nil {
		stats = b.Stats()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SupervisorSnapshot{
		Connected: s.connected.Load(),
		Sessions:  s.sessions.Load(),
		LastError: s.lastErr,
		LastStart: s.lastStart,
		Stats:     stats,
	}
}

var _ observability.StatusSource = (*Supervisor)(nil)
