//go:build !linux && !darwin

package sigwake

import (
	"errors"
)

var errUnsupported = errors.New("sigwake: unsupported platform")

func writeFD(int, []byte) error { return errUnsupported }

// Pipe is unsupported on this platform.
func Pipe() (r, w int, err error) { return -1, -1, errUnsupported }

// Drain is a no-op on this platform.
func Drain(int) {}
