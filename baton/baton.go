// Package baton implements a synchronization primitive that blocks a device
// command stream until it is aborted by the host or a timeout elapses.
//
// A Baton is bound to one stream at creation: the backend enqueues a small
// perpetual poll onto it, so work enqueued afterwards on the same stream
// cannot start until the baton resolves. The host side releases the stream by
// calling Abort (from any goroutine) or by simply letting the timeout elapse;
// neither requires a host goroutine to block, and Status can be observed at
// any time without synchronizing with the device.
//
// Concrete device backends register themselves by name (see Register); the
// default backend, registered under "stream", lives in the streambackend
// sub-package and is enabled with a side-effect import:
//
//	import _ "github.com/gomlx/gobaton/baton/streambackend"
//
// Typical use:
//
//	b, err := baton.New(stream, 30*time.Second)
//	...
//	stream.Enqueue(work) // work is held back by the baton
//	...
//	b.Abort() // release the stream
//	if b.Status() == baton.StatusTimedOut { ... }
//	_ = b.Destroy()
package baton

import (
	"time"

	"github.com/gomlx/gobaton/streams"
)

// Baton is a handle to an in-flight block on a device stream, resolvable to
// a timeout or an abort.
//
// A Baton is in exactly one Status at a time and resolves to exactly one
// terminal Status. When Abort races with the timeout expiring, whichever the
// device-side poll observes first wins -- the contract only guarantees the
// result is one of the two terminal states.
type Baton interface {
	// Abort releases the bound stream. It may be called from any goroutine
	// and is idempotent: aborting an already-terminal baton is a no-op. It
	// returns promptly -- at most after a short bounded handshake with the
	// device-side poll, never waiting for the full timeout.
	//
	// Abort called before the poll has started (Status still StatusUnknown)
	// still terminates the baton once the poll runs: the abort request
	// sticks until consumed.
	Abort()

	// Status returns the baton's current status without blocking and without
	// any device synchronization. Safe to call concurrently with Abort and
	// with the device-side poll.
	Status() Status

	// Destroy releases the baton's shared signaling state. The baton must be
	// terminal: destroying it while the stream is still blocked would leak a
	// permanently stalled stream, and is a fatal error. Idempotent.
	Destroy() error
}

// Constructor builds a backend's Baton bound to the given stream. The timeout
// is fixed for the baton's lifetime.
type Constructor func(stream *streams.Stream, timeout time.Duration) (Baton, error)
