package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"railbridge/internal/bridge"
	"railbridge/internal/config"
	"railbridge/internal/logging"
	"railbridge/internal/netlink"
	"railbridge/internal/observability"
	"railbridge/internal/protocol/frame"
	"railbridge/internal/serialcomm"
)

func main() {
	configPath := flag.String("config", "", "path to railbridge.toml (defaults only when empty)")
	verbose := flag.Bool("v", false, "debug logging")
	once := flag.Bool("once", false, "run one session and exit instead of reconnecting")
	flag.Parse()

	if err := run(*configPath, *verbose, *once); err != nil {
		fmt.Fprintf(os.Stderr, "railbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, verbose, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if once {
		cfg.Reconnect.Enabled = false
	}
	logging.Configure(cfg.Log)
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := newSupervisor(cfg, logger)

	if cfg.Admin.Listen != "" {
		gin.SetMode(gin.ReleaseMode)
		admin := observability.NewAdminRouter("railbridge", logger, sup)
		go func() {
			if err := observability.ServeAdmin(ctx, cfg.Admin.Listen, admin, logger); err != nil {
				logger.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	logger.Info().
		Str("serial", cfg.Serial.Port).
		Str("url", cfg.Network.URL).
		Bool("reconnect", cfg.Reconnect.Enabled).
		Msg("railbridge starting")
	if err := sup.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("railbridge stopped")
	return nil
}

func newSupervisor(cfg config.Config, logger zerolog.Logger) *bridge.Supervisor {
	serialCfg := serialcomm.SerialConfig{
		PortName:       cfg.Serial.Port,
		BaudRate:       cfg.Serial.Baud,
		ReadTimeout:    cfg.Serial.ReadTimeout,
		WriteDelay:     cfg.Serial.WriteDelay,
		ReadBufferSize: cfg.Serial.ReadBuffer,
		WriteQueue:     cfg.Bridge.WriteQueue,
	}
	linkCfg := netlink.Config{
		URL:              cfg.Network.URL,
		HandshakeTimeout: cfg.Network.HandshakeTimeout,
		WriteTimeout:     cfg.Network.WriteTimeout,
		PingInterval:     cfg.Network.PingInterval,
		PongWait:         cfg.Network.PongWait,
	}

	open := func(context.Context) (bridge.SerialDevice, error) {
		port, err := serialcomm.OpenPort(serialCfg)
		if err != nil {
			return nil, err
		}
		return serialcomm.NewDevice(port, serialCfg, serialcomm.WithLogger(logger)), nil
	}
	dial := func(ctx context.Context) (bridge.Link, error) {
		conn, err := netlink.Dial(ctx, linkCfg, netlink.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	return bridge.NewSupervisor(bridge.SupervisorConfig{
		Bridge: bridge.Config{
			ChunkQueue:   cfg.Bridge.ChunkQueue,
			FrameQueue:   cfg.Bridge.FrameQueue,
			InboundQueue: cfg.Bridge.InboundQueue,
			DrainTimeout: cfg.Bridge.DrainTimeout,
		},
		Backoff: bridge.BackoffConfig{
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
			Jitter:       cfg.Reconnect.Jitter,
		},
		Reconnect:   cfg.Reconnect.Enabled,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}, open, dial,
		bridge.WithSupervisorLogger(logger),
		bridge.WithSessionOptions(bridge.WithDecoderOptions(decoderOptions(cfg)...)),
	)
}

// decoderOptions leaves the payload limit to the registry unless the
// config sets one.
func decoderOptions(cfg config.Config) []frame.Option {
	opts := []frame.Option{frame.WithResync(cfg.ResyncPolicy())}
	if cfg.Bridge.MaxPayload > 0 {
		opts = append(opts, frame.WithLimits(frame.Limits{MaxPayload: cfg.Bridge.MaxPayload}))
	}
	return opts
}
