// Package netlink is the WebSocket side of the bridge: one persistent duplex
// connection carrying JSON envelopes as text messages.
package netlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed     = errors.New("netlink: link closed")
	ErrPeerClosed = errors.New("netlink: peer closed connection")
)

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration
	// PongWait bounds how long a read may go without any traffic from the
	// peer. Zero disables the read deadline.
	PongWait time.Duration
	Header   http.Header
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Conn is a client link. ReadMessage and WriteMessage may each be used by one
// goroutine at a time; Close may be called from anywhere.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

type Option func(*Conn)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) {
		c.logger = l
	}
}

// Dial opens the WebSocket connection described by cfg.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Conn, error) {
	cfg = cfg.withDefaults()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("netlink: dial %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("netlink: dial %s: %w", cfg.URL, err)
	}
	return newConn(ws, cfg, opts...), nil
}

func newConn(ws *websocket.Conn, cfg Config, opts ...Option) *Conn {
	c := &Conn{
		ws:     ws,
		cfg:    cfg,
		logger: log.Logger,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("url", cfg.URL).Logger()

	if cfg.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}
	if cfg.PingInterval > 0 {
		go c.keepalive()
	}
	c.logger.Info().Msg("network link connected")
	return c
}

// ReadMessage blocks until the next text or binary message arrives. Control
// frames are handled internally. Cancelling ctx aborts the read and leaves
// the connection unusable for further reads.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.readErr(ctx, err)
		}
		if c.cfg.PongWait > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

func (c *Conn) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	return fmt.Errorf("netlink: read: %w", err)
}

// WriteMessage sends b as a single text message.
func (c *Conn) WriteMessage(ctx context.Context, b []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("netlink: write: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("netlink: write: %w", err)
	}
	return nil
}

// Close sends a normal close frame and releases the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			c.logger.Debug().Err(err).Msg("close frame not sent")
		}
		c.closeErr = c.ws.Close()
		c.logger.Info().Msg("network link closed")
	})
	return c.closeErr
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage.
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
