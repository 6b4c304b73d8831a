// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioloop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeycumines/go-ioloop/logging"
	"github.com/joeycumines/logiface"
	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the file representation of the loop options.
type Config struct {
	Log  LogConfig  `yaml:"log" toml:"log"`
	Loop LoopConfig `yaml:"loop" toml:"loop"`
}

// LogConfig selects the logger, see Config.Logger.
type LogConfig struct {
	// Level is a syslog keyword or alias, see [logging.ParseLevel].
	Level string `yaml:"level" toml:"level"`
	// Format is one of json (default), zerolog, logrus or none.
	Format string `yaml:"format" toml:"format"`
}

// LoopConfig holds the options applied by Config.Options.
type LoopConfig struct {
	LockOSThread bool `yaml:"lock_os_thread" toml:"lock_os_thread"`
	// SignalWakeup defaults to enabled.
	SignalWakeup    *bool `yaml:"signal_wakeup" toml:"signal_wakeup"`
	EventBufferSize int   `yaml:"event_buffer_size" toml:"event_buffer_size"`
}

// LoadConfig reads a yaml (.yaml, .yml) or toml (.toml) file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ioloop: read config: %w", err)
	}
	return ParseConfig(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseConfig decodes data, in the given format (yaml, yml or toml).
func ParseConfig(data []byte, format string) (*Config, error) {
	var cfg Config
	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &cfg)
	case "toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("ioloop: unsupported config format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("ioloop: parse %s config: %w", format, err)
	}
	if cfg.Loop.EventBufferSize < 0 {
		return nil, fmt.Errorf("ioloop: invalid event_buffer_size %d", cfg.Loop.EventBufferSize)
	}
	return &cfg, nil
}

// Logger builds the configured logger, writing to stderr.
func (c *Config) Logger() (*logiface.Logger[logiface.Event], error) {
	level := logging.DefaultLevel
	if c.Log.Level != "" {
		var err error
		if level, err = logging.ParseLevel(c.Log.Level); err != nil {
			return nil, err
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json":
		return logging.NewJSON(os.Stderr, level), nil
	case "zerolog":
		return logging.NewZerolog(zerolog.New(os.Stderr).With().Timestamp().Logger(), level), nil
	case "logrus":
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.TraceLevel)
		return logging.NewLogrus(l, level), nil
	case "none":
		return logging.Discard(), nil
	default:
		return nil, fmt.Errorf("ioloop: unknown log format %q", c.Log.Format)
	}
}

// Options converts the config to loop options.
func (c *Config) Options() ([]Option, error) {
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithLogger(logger),
		WithLockOSThread(c.Loop.LockOSThread),
		WithEventBufferSize(c.Loop.EventBufferSize),
	}
	if c.Loop.SignalWakeup != nil && !*c.Loop.SignalWakeup {
		opts = append(opts, WithSignalWakeup(nil))
	}
	return opts, nil
}
