package ioloop

import (
	"sync"
)

// Factory creates a Loop, see SetFactory.
type Factory func(opts ...Option) (*Loop, error)

// current is the process-wide loop. Install, Clear and SetFactory are
// intended to be called by a single owner (typically main), at a time.
var current struct {
	sync.Mutex
	loop    *Loop
	factory Factory
}

// Current returns the installed loop, or nil.
func Current() *Loop {
	current.Lock()
	defer current.Unlock()
	return current.loop
}

// Install sets the process-wide loop, returning the previous one. The
// previous loop is not closed.
func Install(l *Loop) (prev *Loop) {
	current.Lock()
	defer current.Unlock()
	prev, current.loop = current.loop, l
	return prev
}

// Clear removes the process-wide loop, returning it.
func Clear() (prev *Loop) {
	return Install(nil)
}

// Instance returns the process-wide loop, creating and installing one (using
// the registered Factory, and opts) if there is none.
func Instance(opts ...Option) (*Loop, error) {
	current.Lock()
	defer current.Unlock()
	if current.loop != nil {
		return current.loop, nil
	}
	factory := current.factory
	if factory == nil {
		factory = New
	}
	l, err := factory(opts...)
	if err != nil {
		return nil, err
	}
	current.loop = l
	return l, nil
}

// SetFactory registers the func used by Instance to create a loop, returning
// the previous one. A nil factory restores the default, New.
func SetFactory(f Factory) (prev Factory) {
	current.Lock()
	defer current.Unlock()
	prev, current.factory = current.factory, f
	return prev
}
