//go:build linux

package native

import (
	"golang.org/x/sys/unix"
)

// wakeSignal is the eventfd counter increment, in host byte order.
var wakeSignal = [8]byte{1}

// createWakeFd creates an eventfd for wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}
