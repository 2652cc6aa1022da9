// Package config loads server settings: defaults, then an optional TOML
// file, then a .env file and TABLESYNC_* environment variables, then
// command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/tablesync/internal/session"
	"github.com/DoyleJ11/tablesync/internal/ws"
)

const (
	EnvConfigFile        = "TABLESYNC_CONFIG"
	EnvAddr              = "TABLESYNC_ADDR"
	EnvLogLevel          = "TABLESYNC_LOG_LEVEL"
	EnvLogDev            = "TABLESYNC_LOG_DEV"
	EnvHeartbeatInterval = "TABLESYNC_HEARTBEAT_INTERVAL"
	EnvDeadAfter         = "TABLESYNC_DEAD_AFTER"
	EnvHandshakeTimeout  = "TABLESYNC_HANDSHAKE_TIMEOUT"
	EnvWriteTimeout      = "TABLESYNC_WRITE_TIMEOUT"
	EnvOutboxSize        = "TABLESYNC_OUTBOX_SIZE"
	EnvAllowedOrigins    = "TABLESYNC_ALLOWED_ORIGINS"
)

type Config struct {
	Addr              string   `toml:"addr"`
	LogLevel          string   `toml:"log_level"`
	LogDev            bool     `toml:"log_dev"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	DeadAfter         Duration `toml:"dead_after"`
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
	OutboxSize        int      `toml:"outbox_size"`
	AllowedOrigins    []string `toml:"allowed_origins"`
}

// Duration decodes TOML strings such as "5s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() Config {
	sc := session.DefaultConfig()
	wc := ws.DefaultConfig()
	return Config{
		Addr:              ":1235",
		LogLevel:          "info",
		HeartbeatInterval: Duration{sc.HeartbeatInterval},
		DeadAfter:         Duration{sc.DeadAfter},
		HandshakeTimeout:  Duration{wc.HandshakeTimeout},
		WriteTimeout:      Duration{wc.WriteTimeout},
		OutboxSize:        wc.OutboxSize,
	}
}

// Load builds the configuration from all sources. args excludes the
// program name.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("tablesync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", os.Getenv(EnvConfigFile), "path to a TOML config file")
	addr := fs.String("addr", "", "listen address")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	logDev := fs.Bool("log-dev", false, "human readable console logs")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", *configPath, err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-dev":
			cfg.LogDev = *logDev
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogDev); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogDev, err)
		}
		cfg.LogDev = b
	}
	for name, dst := range map[string]*Duration{
		EnvHeartbeatInterval: &cfg.HeartbeatInterval,
		EnvDeadAfter:         &cfg.DeadAfter,
		EnvHandshakeTimeout:  &cfg.HandshakeTimeout,
		EnvWriteTimeout:      &cfg.WriteTimeout,
	} {
		if v := os.Getenv(name); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	if v := os.Getenv(EnvOutboxSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOutboxSize, err)
		}
		cfg.OutboxSize = n
	}
	if v := os.Getenv(EnvAllowedOrigins); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.HeartbeatInterval.Duration <= 0 || c.DeadAfter.Duration <= 0 {
		return errors.New("heartbeat_interval and dead_after must be positive")
	}
	if c.DeadAfter.Duration <= c.HeartbeatInterval.Duration {
		return fmt.Errorf("dead_after (%s) must exceed heartbeat_interval (%s)", c.DeadAfter, c.HeartbeatInterval)
	}
	if c.HandshakeTimeout.Duration <= 0 || c.WriteTimeout.Duration <= 0 {
		return errors.New("handshake_timeout and write_timeout must be positive")
	}
	if c.OutboxSize < 4 {
		return fmt.Errorf("outbox_size must be at least 4, got %d", c.OutboxSize)
	}
	return nil
}

func (c Config) Session() session.Config {
	return session.Config{
		HeartbeatInterval: c.HeartbeatInterval.Duration,
		DeadAfter:         c.DeadAfter.Duration,
	}
}

// WS derives the transport settings. Pings run at the heartbeat interval so
// a healthy connection refreshes its participant well inside DeadAfter.
func (c Config) WS() ws.Config {
	wc := ws.DefaultConfig()
	wc.HandshakeTimeout = c.HandshakeTimeout.Duration
	wc.WriteTimeout = c.WriteTimeout.Duration
	wc.PingInterval = c.HeartbeatInterval.Duration
	wc.OutboxSize = c.OutboxSize
	wc.OriginPatterns = c.AllowedOrigins
	return wc
}
