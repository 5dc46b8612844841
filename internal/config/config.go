package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"railbridge/internal/logging"
	"railbridge/internal/protocol/frame"
)

const (
	EnvServerWS   = "SERVER_WS"
	EnvSerialPort = "RAILBRIDGE_SERIAL_PORT"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Serial    SerialConfig
	Network   NetworkConfig
	Bridge    BridgeConfig
	Reconnect ReconnectConfig
	Log       logging.Config
	Admin     AdminConfig
}

type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	WriteDelay  time.Duration
	ReadBuffer  int
}

type NetworkConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
}

type BridgeConfig struct {
	ChunkQueue   int
	FrameQueue   int
	InboundQueue int
	WriteQueue   int
	// MaxPayload zero derives the limit from the widest registered type.
	MaxPayload   uint32
	Resync       string
	DrainTimeout time.Duration
}

type ReconnectConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	// MaxAttempts bounds consecutive failed sessions; 0 retries forever.
	MaxAttempts int
}

type AdminConfig struct {
	// Listen is the admin HTTP address; empty disables the server.
	Listen string
}

func Default() Config {
	return Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			Baud:        115200,
			ReadTimeout: 100 * time.Millisecond,
			WriteDelay:  5 * time.Millisecond,
			ReadBuffer:  1024,
		},
		Network: NetworkConfig{
			URL:              "ws://127.0.0.1:8080/ws",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingInterval:     20 * time.Second,
			PongWait:         60 * time.Second,
		},
		Bridge: BridgeConfig{
			ChunkQueue:   64,
			FrameQueue:   256,
			InboundQueue: 256,
			WriteQueue:   128,
			Resync:       frame.ResyncScan.String(),
			DrainTimeout: 2 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
		},
		Log: logging.DefaultConfig(),
	}
}

// fileConfig mirrors the TOML layout. Durations are Go duration strings.
type fileConfig struct {
	Serial struct {
		Port        string `toml:"port"`
		Baud        int    `toml:"baud"`
		ReadTimeout string `toml:"read_timeout"`
		WriteDelay  string `toml:"write_delay"`
		ReadBuffer  int    `toml:"read_buffer"`
	} `toml:"serial"`
	Network struct {
		URL              string `toml:"url"`
		HandshakeTimeout string `toml:"handshake_timeout"`
		WriteTimeout     string `toml:"write_timeout"`
		PingInterval     string `toml:"ping_interval"`
		PongWait         string `toml:"pong_wait"`
	} `toml:"network"`
	Bridge struct {
		ChunkQueue   int    `toml:"chunk_queue"`
		FrameQueue   int    `toml:"frame_queue"`
		InboundQueue int    `toml:"inbound_queue"`
		WriteQueue   int    `toml:"write_queue"`
		MaxPayload   int64  `toml:"max_payload"`
		Resync       string `toml:"resync"`
		DrainTimeout string `toml:"drain_timeout"`
	} `toml:"bridge"`
	Reconnect struct {
		Enabled      bool    `toml:"enabled"`
		InitialDelay string  `toml:"initial_delay"`
		MaxDelay     string  `toml:"max_delay"`
		Multiplier   float64 `toml:"multiplier"`
		Jitter       float64 `toml:"jitter"`
		MaxAttempts  int     `toml:"max_attempts"`
	} `toml:"reconnect"`
	Log struct {
		Level    string   `toml:"level"`
		Format   string   `toml:"format"`
		Outputs  []string `toml:"outputs"`
		NoColor  bool     `toml:"no_color"`
		Rotation struct {
			Enabled    bool `toml:"enabled"`
			MaxSizeMB  int  `toml:"max_size_mb"`
			MaxBackups int  `toml:"max_backups"`
			MaxAgeDays int  `toml:"max_age_days"`
			Compress   bool `toml:"compress"`
		} `toml:"rotation"`
	} `toml:"log"`
	Admin struct {
		Listen string `toml:"listen"`
	} `toml:"admin"`
}

// Load overlays the TOML file at path onto Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := overlay(&cfg, raw, meta); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	d := durations{meta: meta}

	if meta.IsDefined("serial", "port") {
		cfg.Serial.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = raw.Serial.Baud
	}
	d.set(&cfg.Serial.ReadTimeout, raw.Serial.ReadTimeout, "serial", "read_timeout")
	d.set(&cfg.Serial.WriteDelay, raw.Serial.WriteDelay, "serial", "write_delay")
	if meta.IsDefined("serial", "read_buffer") {
		cfg.Serial.ReadBuffer = raw.Serial.ReadBuffer
	}

	if meta.IsDefined("network", "url") {
		cfg.Network.URL = strings.TrimSpace(raw.Network.URL)
	}
	d.set(&cfg.Network.HandshakeTimeout, raw.Network.HandshakeTimeout, "network", "handshake_timeout")
	d.set(&cfg.Network.WriteTimeout, raw.Network.WriteTimeout, "network", "write_timeout")
	d.set(&cfg.Network.PingInterval, raw.Network.PingInterval, "network", "ping_interval")
	d.set(&cfg.Network.PongWait, raw.Network.PongWait, "network", "pong_wait")

	if meta.IsDefined("bridge", "chunk_queue") {
		cfg.Bridge.ChunkQueue = raw.Bridge.ChunkQueue
	}
	if meta.IsDefined("bridge", "frame_queue") {
		cfg.Bridge.FrameQueue = raw.Bridge.FrameQueue
	}
	if meta.IsDefined("bridge", "inbound_queue") {
		cfg.Bridge.InboundQueue = raw.Bridge.InboundQueue
	}
	if meta.IsDefined("bridge", "write_queue") {
		cfg.Bridge.WriteQueue = raw.Bridge.WriteQueue
	}
	if meta.IsDefined("bridge", "max_payload") {
		if raw.Bridge.MaxPayload < 0 || raw.Bridge.MaxPayload > int64(^uint32(0)) {
			return fmt.Errorf("%w: bridge.max_payload %d out of range", ErrInvalid, raw.Bridge.MaxPayload)
		}
		cfg.Bridge.MaxPayload = uint32(raw.Bridge.MaxPayload)
	}
	if meta.IsDefined("bridge", "resync") {
		cfg.Bridge.Resync = strings.TrimSpace(raw.Bridge.Resync)
	}
	d.set(&cfg.Bridge.DrainTimeout, raw.Bridge.DrainTimeout, "bridge", "drain_timeout")

	if meta.IsDefined("reconnect", "enabled") {
		cfg.Reconnect.Enabled = raw.Reconnect.Enabled
	}
	d.set(&cfg.Reconnect.InitialDelay, raw.Reconnect.InitialDelay, "reconnect", "initial_delay")
	d.set(&cfg.Reconnect.MaxDelay, raw.Reconnect.MaxDelay, "reconnect", "max_delay")
	if meta.IsDefined("reconnect", "multiplier") {
		cfg.Reconnect.Multiplier = raw.Reconnect.Multiplier
	}
	if meta.IsDefined("reconnect", "jitter") {
		cfg.Reconnect.Jitter = raw.Reconnect.Jitter
	}
	if meta.IsDefined("reconnect", "max_attempts") {
		cfg.Reconnect.MaxAttempts = raw.Reconnect.MaxAttempts
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("log", "outputs") {
		cfg.Log.Outputs = raw.Log.Outputs
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	rot := raw.Log.Rotation
	if meta.IsDefined("log", "rotation", "enabled") {
		cfg.Log.Rotation.Enabled = rot.Enabled
	}
	if meta.IsDefined("log", "rotation", "max_size_mb") {
		cfg.Log.Rotation.MaxSizeMB = rot.MaxSizeMB
	}
	if meta.IsDefined("log", "rotation", "max_backups") {
		cfg.Log.Rotation.MaxBackups = rot.MaxBackups
	}
	if meta.IsDefined("log", "rotation", "max_age_days") {
		cfg.Log.Rotation.MaxAgeDays = rot.MaxAgeDays
	}
	if meta.IsDefined("log", "rotation", "compress") {
		cfg.Log.Rotation.Compress = rot.Compress
	}

	if meta.IsDefined("admin", "listen") {
		cfg.Admin.Listen = strings.TrimSpace(raw.Admin.Listen)
	}
	return d.err
}

// durations parses duration strings for defined keys and keeps the first error.
type durations struct {
	meta toml.MetaData
	err  error
}

func (d *durations) set(dst *time.Duration, raw string, key ...string) {
	if d.err != nil || !d.meta.IsDefined(key...) {
		return
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		d.err = fmt.Errorf("%w: %s: %v", ErrInvalid, strings.Join(key, "."), err)
		return
	}
	*dst = v
}

// ApplyEnv applies SERVER_WS and RAILBRIDGE_SERIAL_PORT when set.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvServerWS)); v != "" {
		cfg.Network.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSerialPort)); v != "" {
		cfg.Serial.Port = v
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("%w: serial.port is required", ErrInvalid)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("%w: serial.baud must be positive", ErrInvalid)
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("%w: serial.read_timeout must be positive", ErrInvalid)
	}
	if c.Serial.WriteDelay < 0 {
		return fmt.Errorf("%w: serial.write_delay must not be negative", ErrInvalid)
	}
	if c.Serial.ReadBuffer <= 0 {
		return fmt.Errorf("%w: serial.read_buffer must be positive", ErrInvalid)
	}

	if c.Network.URL == "" {
		return fmt.Errorf("%w: network.url is required", ErrInvalid)
	}
	u, err := url.Parse(c.Network.URL)
	if err != nil {
		return fmt.Errorf("%w: network.url: %v", ErrInvalid, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: network.url scheme %q (expected ws or wss)", ErrInvalid, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: network.url has no host", ErrInvalid)
	}
	if c.Network.PingInterval > 0 && c.Network.PongWait <= c.Network.PingInterval {
		return fmt.Errorf("%w: network.pong_wait must exceed network.ping_interval", ErrInvalid)
	}

	queues := []struct {
		name string
		v    int
	}{
		{"bridge.chunk_queue", c.Bridge.ChunkQueue},
		{"bridge.frame_queue", c.Bridge.FrameQueue},
		{"bridge.inbound_queue", c.Bridge.InboundQueue},
		{"bridge.write_queue", c.Bridge.WriteQueue},
	}
	for _, q := range queues {
		if q.v <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, q.name)
		}
	}
	if _, err := frame.ParseResyncPolicy(c.Bridge.Resync); err != nil {
		return fmt.Errorf("%w: bridge.resync: %v", ErrInvalid, err)
	}

	if c.Reconnect.Enabled {
		if c.Reconnect.InitialDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
			return fmt.Errorf("%w: reconnect delays must satisfy 0 < initial_delay <= max_delay", ErrInvalid)
		}
		if c.Reconnect.Multiplier < 1 {
			return fmt.Errorf("%w: reconnect.multiplier must be >= 1", ErrInvalid)
		}
		if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
			return fmt.Errorf("%w: reconnect.jitter must be within [0,1]", ErrInvalid)
		}
		if c.Reconnect.MaxAttempts < 0 {
			return fmt.Errorf("%w: reconnect.max_attempts must not be negative", ErrInvalid)
		}
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// ResyncPolicy returns the parsed bridge.resync value.
func (c Config) ResyncPolicy() frame.ResyncPolicy {
	p, err := frame.ParseResyncPolicy(c.Bridge.Resync)
	if err != nil {
		return frame.ResyncScan
	}
	return p
}
