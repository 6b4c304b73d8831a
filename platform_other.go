//go:build !linux && !darwin

package ioloop

import (
	"errors"

	"github.com/joeycumines/go-ioloop/native"
)

func defaultEngine(int) (native.Engine, error) {
	return nil, ErrNoEngine
}

func closeFD(int) error {
	return errors.ErrUnsupported
}
