// Package ioloop implements a callback style I/O loop, on top of a
// [native.Engine].
//
// A [Loop] dispatches readiness for registered descriptors ([Loop.AddHandler]),
// timeouts ([Loop.AddTimeout]) and deferred callbacks ([Loop.AddCallback]),
// all on the goroutine running [Loop.Start]. Deferred callbacks may be added
// from any goroutine, and are drained once per pass of the engine, using a
// prepare hook. Callbacks added during a drain run on the following pass.
//
// Failures of user callbacks (returned errors, and panics) are logged, and
// never stop the loop.
package ioloop
