// Package config loads server settings from defaults, an optional JSON file,
// FLASH_* environment variables and command-line flags, in that order.
package config

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Backpressure policies applied when every worker is busy and the queue is
// full.
const (
	BackpressureBlock  = "block"
	BackpressureReject = "reject"
)

// Log formats
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FLASH"

// Config holds all server configuration.
type Config struct {
	Host string `config:"host"`
	Port int    `config:"port"`

	Workers      int    `config:"workers"`
	QueueSize    int    `config:"queue.size"`
	Backpressure string `config:"backpressure"`

	IdleTimeout     time.Duration `config:"idle.timeout"`
	RequestTimeout  time.Duration `config:"request.timeout"`
	WriteTimeout    time.Duration `config:"write.timeout"`
	ShutdownTimeout time.Duration `config:"shutdown.timeout"`
	KeepAlive       bool          `config:"keepalive"`

	MaxHeaderBytes int `config:"max.header.bytes"`
	MaxBodyBytes   int `config:"max.body.bytes"`

	// 0 leaves the runtime defaults
	GCPercent   int   `config:"gc.percent"`
	MemoryLimit int64 `config:"memory.limit"`

	LogLevel  string `config:"log.level"`
	LogFormat string `config:"log.format"`
	Env       string `config:"env"`
}

// Default returns the built-in settings.
func Default() *Config {
	workers := runtime.NumCPU()
	return &Config{
		Port:            8080,
		Workers:         workers,
		QueueSize:       workers * 64,
		Backpressure:    BackpressureBlock,
		IdleTimeout:     5 * time.Second,
		RequestTimeout:  30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		KeepAlive:       true,
		MaxHeaderBytes:  64 << 10,
		MaxBodyBytes:    1 << 20,
		LogLevel:        "info",
		LogFormat:       LogFormatJSON,
		Env:             "development",
	}
}

// New loads configuration from os.Args and the environment. It exits the
// process when the configuration is invalid.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		if errors.Cause(err) == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

// Load builds a Config from args. Later sources override earlier ones:
// defaults, the JSON file named by -config, FLASH_* variables, then the
// flags present in args.
func Load(args []string) (*Config, error) {
	return load(args, func(m *Manager) { m.LoadFromEnv(EnvPrefix) })
}

func load(args []string, loadEnv func(m *Manager)) (*Config, error) {
	var path string
	defaults := Default()
	fs := flag.NewFlagSet("flash", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "JSON configuration file")
	bindFlags(fs, defaults)
	if err := fs.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}

	m := NewManager()
	if path != "" {
		if err := m.LoadFromJSON(path); err != nil {
			return nil, err
		}
	}
	loadEnv(m)
	fs.Visit(func(f *flag.Flag) {
		if f.Name != "config" {
			m.Set(normalizeKey(f.Name), f.Value.String())
		}
	})

	cfg := Default()
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of worker goroutines")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "accepted connections waiting for a worker")
	fs.StringVar(&cfg.Backpressure, "backpressure", cfg.Backpressure, "full queue policy (block/reject)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "keep-alive idle timeout")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "time allowed to read and handle one request")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "response write timeout")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown limit")
	fs.BoolVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "enable HTTP keep-alive")
	fs.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", cfg.MaxHeaderBytes, "request header block limit")
	fs.IntVar(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "request body limit")
	fs.IntVar(&cfg.GCPercent, "gc-percent", cfg.GCPercent, "GOGC override (0 keeps the default)")
	fs.Int64Var(&cfg.MemoryLimit, "memory-limit", cfg.MemoryLimit, "soft memory limit in bytes (0 for none)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug/info/warn/error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json/console)")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.Errorf("invalid port %d", c.Port)
	case c.Workers < 1:
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	case c.QueueSize < 1:
		return errors.Errorf("queue size must be positive, got %d", c.QueueSize)
	case c.Backpressure != BackpressureBlock && c.Backpressure != BackpressureReject:
		return errors.Errorf("unknown backpressure policy %q", c.Backpressure)
	case c.IdleTimeout <= 0:
		return errors.Errorf("idle timeout must be positive, got %s", c.IdleTimeout)
	case c.RequestTimeout <= 0:
		return errors.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	case c.WriteTimeout < 0:
		return errors.Errorf("write timeout must not be negative, got %s", c.WriteTimeout)
	case c.ShutdownTimeout <= 0:
		return errors.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	case c.GCPercent < 0 || c.MemoryLimit < 0:
		return errors.New("gc percent and memory limit must not be negative")
	case c.MaxHeaderBytes < 1:
		return errors.Errorf("max header bytes must be positive, got %d", c.MaxHeaderBytes)
	case c.MaxBodyBytes < 1:
		return errors.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	case c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatConsole:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsProduction reports whether Env names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// NewLogger builds the root logger described by LogLevel and LogFormat.
// An unparsable level falls back to info.
func (c *Config) NewLogger(w io.Writer) zerolog.Logger {
	if c.LogFormat == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("env", c.Env).Logger()
}
