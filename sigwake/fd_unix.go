//go:build linux || darwin

package sigwake

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func writeFD(fd int, buf []byte) error {
	_, err := unix.Write(fd, buf)
	return err
}

// Pipe creates a non-blocking, close-on-exec pipe, suitable for use with
// SetWakeupFD.
func Pipe() (r, w int, err error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		syscall.CloseOnExec(fd)
		if err := syscall.SetNonblock(fd, true); err != nil {
			_ = syscall.Close(fds[0])
			_ = syscall.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

// Drain reads and discards everything currently buffered in fd, which must
// be non-blocking.
func Drain(fd int) {
	var buf [64]byte
	for {
		if n, err := unix.Read(fd, buf[:]); err != nil || n <= 0 {
			return
		}
	}
}
