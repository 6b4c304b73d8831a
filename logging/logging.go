// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package logging provides logiface loggers for use with ioloop, backed by
// stumpy (JSON), zerolog, or logrus.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// DefaultLevel is the level used by Default.
const DefaultLevel = logiface.LevelWarning

// Default returns a JSON logger writing to stderr, at DefaultLevel.
func Default() *logiface.Logger[logiface.Event] {
	return NewJSON(os.Stderr, DefaultLevel)
}

// NewJSON returns a stumpy-backed JSON logger writing to w.
func NewJSON(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// Discard returns a logger with logging disabled.
func Discard() *logiface.Logger[logiface.Event] {
	return logiface.New[logiface.Event](logiface.WithLevel[logiface.Event](logiface.LevelDisabled))
}

// ParseLevel parses a syslog keyword (as per [logiface.Level.String]), or a
// common alias such as "error", "warn", or "information".
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logiface.LevelDisabled, nil
	case "emerg", "emergency", "panic":
		return logiface.LevelEmergency, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "crit", "critical", "fatal":
		return logiface.LevelCritical, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "info", "informational", "information":
		return logiface.LevelInformational, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf("logging: unknown level %q", s)
	}
}
