// Package streambackend implements the default baton backend, registered
// under the name "stream". It drives any streams.Stream.
//
// To use it simply import with:
//
//	import _ "github.com/gomlx/gobaton/baton/streambackend"
//
// And calls to baton.New will resolve to this backend (unless the
// GOBATON_BACKEND environment variable selects another one).
//
// The backend allocates one control word shared between the host and the
// device side of the stream, and enqueues a poll command that re-reads it at
// a bounded interval until the host requests an abort or the timeout
// elapses. Host and device only ever communicate through atomic operations
// on that word, so Status and Abort never synchronize with the stream.
package streambackend

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/gomlx/gobaton/baton"
	"github.com/gomlx/gobaton/streams"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName is the name this backend registers itself under.
const BackendName = "stream"

const (
	// PollIntervalEnv overrides the device-side polling interval (a
	// time.ParseDuration string). Timeouts resolve with at most one interval
	// of slack, so shorter intervals give tighter deadlines at the cost of
	// more wakeups.
	PollIntervalEnv = "GOBATON_POLL_INTERVAL"

	// AbortHandshakeEnv overrides how long Abort waits for the device-side
	// poll to acknowledge before returning anyway (a time.ParseDuration
	// string). Zero makes Abort fully fire-and-forget.
	AbortHandshakeEnv = "GOBATON_ABORT_HANDSHAKE"

	defaultPollInterval   = 1 * time.Millisecond
	defaultAbortHandshake = 100 * time.Millisecond
)

var (
	pollInterval   = defaultPollInterval
	abortHandshake = defaultAbortHandshake
)

// Control word bit layout. The host only ever sets abortRequestedBit; the
// poll command is the only writer of the other bits, which is what makes the
// abort/timeout race resolve to exactly one terminal state.
const (
	abortRequestedBit uint32 = 1 << iota
	pollStartedBit
	timedOutBit
	abortedBit
)

const terminalMask = timedOutBit | abortedBit

func init() {
	pollInterval = durationFromEnv(PollIntervalEnv, defaultPollInterval)
	abortHandshake = durationFromEnv(AbortHandshakeEnv, defaultAbortHandshake)
	baton.Register(BackendName, New)
}

// durationFromEnv parses a duration from the given environment variable,
// falling back to defaultValue if it is unset or unparseable.
func durationFromEnv(env string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(env)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		klog.Warningf("Invalid duration %q in %s, using default %s.", value, env, defaultValue)
		return defaultValue
	}
	return d
}

// streamBaton implements baton.Baton on top of a streams.Stream.
type streamBaton struct {
	stream  *streams.Stream
	timeout time.Duration

	// word is the control word shared between the host side (Abort, Status)
	// and the device side (poll). It is the only shared mutable state.
	word atomic.Uint32

	// pollEvent resolves when the poll command has exited the stream.
	pollEvent *streams.Event
	destroyed atomic.Bool
}

// New creates a baton bound to the given stream: it enqueues the poll
// command, so the stream is blocked from this point until the baton
// resolves. Registered as the constructor for the "stream" backend; most
// callers go through baton.New instead.
func New(stream *streams.Stream, timeout time.Duration) (baton.Baton, error) {
	b := &streamBaton{
		stream:  stream,
		timeout: timeout,
	}
	event, err := stream.Enqueue(b.poll)
	if err != nil {
		return nil, errors.WithMessagef(err, "enqueueing baton poll command")
	}
	b.pollEvent = event
	return b, nil
}

// poll runs on the device side of the stream. It spins at pollInterval until
// it observes the abort request or the timeout elapsing, then writes the
// corresponding terminal bit and returns -- which is what lets commands
// enqueued after the baton start.
func (b *streamBaton) poll() {
	b.word.Or(pollStartedBit)
	start := time.Now()
	for {
		if b.word.Load()&abortRequestedBit != 0 {
			b.word.Or(abortedBit)
			return
		}
		if time.Since(start) >= b.timeout {
			b.word.Or(timedOutBit)
			return
		}
		time.Sleep(pollInterval)
	}
}

// Abort implements baton.Baton. It sets the abort request in the control
// word and then waits -- bounded by abortHandshake, never the baton's
// timeout -- for the poll to acknowledge with a terminal bit.
//
// The abort request sticks: even if the poll has not started yet (the stream
// is still busy with earlier commands), it terminates as aborted as soon as
// it runs.
func (b *streamBaton) Abort() {
	if b.word.Load()&terminalMask != 0 {
		// Already terminal, no-op.
		return
	}
	b.word.Or(abortRequestedBit)
	deadline := time.Now().Add(abortHandshake)
	for b.word.Load()&terminalMask == 0 {
		if time.Now().After(deadline) {
			// Fire-and-forget from here on: the poll will still observe the
			// abort request whenever it runs.
			return
		}
		time.Sleep(pollInterval)
	}
}

// Status implements baton.Baton with a single atomic read of the control
// word. Terminal bits win over the started bit, so the status is never
// reported as running after the poll resolved.
func (b *streamBaton) Status() baton.Status {
	word := b.word.Load()
	switch {
	case word&abortedBit != 0:
		return baton.StatusAborted
	case word&timedOutBit != 0:
		return baton.StatusTimedOut
	case word&pollStartedBit != 0:
		return baton.StatusRunning
	default:
		return baton.StatusUnknown
	}
}

// Destroy implements baton.Baton. Fatal if the baton has not resolved yet:
// dropping the handle of a still-blocked stream would leave it stalled
// forever with no way to release it.
func (b *streamBaton) Destroy() error {
	if b.destroyed.Swap(true) {
		// Already destroyed, no-op.
		return nil
	}
	if status := b.Status(); !status.Terminal() {
		klog.Fatalf("Baton on %s destroyed while still %s: abort it or wait for its timeout first, "+
			"otherwise the stream stays blocked forever.", b.stream, status)
	}
	return b.pollEvent.Destroy()
}
