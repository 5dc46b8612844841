package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel   = "RAILBRIDGE_LOG_LEVEL"
	EnvLogFormat  = "RAILBRIDGE_LOG_FORMAT"
	EnvLogNoColor = "RAILBRIDGE_LOG_NOCOLOR"
)

// Config controls the process logger.
type Config struct {
	// Level: trace, debug, info, warn, error, disabled
	Level string
	// Format: console or json
	Format string
	// Outputs: stdout, stderr or file paths
	Outputs  []string
	NoColor  bool
	Rotation RotationConfig
}

// RotationConfig applies to file outputs.
type RotationConfig struct {
	Enabled    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "console",
		Outputs: []string{"stderr"},
		Rotation: RotationConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

var configureOnce sync.Once

// Configure installs the global logger once per process.
func Configure(cfg Config) {
	configureOnce.Do(func() {
		applyEnvOverrides(&cfg)
		logger, err := New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: %v; falling back to stderr\n", err)
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		}
		log.Logger = logger
		zerolog.SetGlobalLevel(logger.GetLevel())
	})
}

func ConfigureTests() {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.NoColor = true
	Configure(cfg)
}

// New builds a logger from cfg without touching global state.
func New(cfg Config) (zerolog.Logger, error) {
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		return zerolog.Logger{}, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		w, isFile, err := openOutput(out, cfg.Rotation)
		if err != nil {
			return zerolog.Logger{}, err
		}
		writers = append(writers, format(w, cfg, isFile))
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func format(w io.Writer, cfg Config, isFile bool) io.Writer {
	if strings.EqualFold(cfg.Format, "json") {
		return w
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor || isFile,
	}
}

func openOutput(out string, rot RotationConfig) (io.Writer, bool, error) {
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "stdout":
		return os.Stdout, false, nil
	case "stderr", "":
		return os.Stderr, false, nil
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, fmt.Errorf("log dir %s: %w", dir, err)
		}
	}
	if rot.Enabled {
		return &lumberjack.Logger{
			Filename:   out,
			MaxSize:    max(rot.MaxSizeMB, 1),
			MaxBackups: max(rot.MaxBackups, 1),
			MaxAge:     max(rot.MaxAgeDays, 1),
			Compress:   rot.Compress,
		}, true, nil
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("log file %s: %w", out, err)
	}
	return f, true, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		if _, ok := ParseLevel(raw); ok {
			cfg.Level = raw
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvLogFormat)); raw != "" {
		cfg.Format = raw
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel maps a config string to a zerolog level. Empty means info.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zerolog.InfoLevel, true
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
