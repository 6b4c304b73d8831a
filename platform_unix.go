//go:build linux || darwin

package ioloop

import (
	"github.com/joeycumines/go-ioloop/native"
	"golang.org/x/sys/unix"
)

func defaultEngine(eventBufferSize int) (native.Engine, error) {
	l, err := native.New(native.Config{EventBufferSize: eventBufferSize})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}
