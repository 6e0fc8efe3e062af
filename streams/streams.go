// Package streams implements host-simulated device command streams: ordered,
// asynchronous queues of work executed independently of the goroutines that
// enqueue onto them.
//
// A Stream is the Go rendition of an accelerator command stream: commands run
// strictly in enqueue order, one at a time, on a dedicated worker goroutine.
// A command that blocks stalls every command enqueued after it on the same
// stream -- the property the baton package builds on.
//
// Streams are independent of each other: commands on different streams run
// concurrently with no ordering between them.
package streams

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Command is a unit of device work enqueued onto a Stream.
//
// It runs on the stream's worker goroutine; anything it blocks on also blocks
// every command enqueued after it.
type Command func()

// Stream is an ordered, asynchronous command queue.
//
// Create it with New and release it with Destroy. All methods are safe for
// concurrent use.
type Stream struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*pendingCommand
	stopped bool

	// workerDone is closed when the worker goroutine exits.
	workerDone chan struct{}
}

type pendingCommand struct {
	fn    Command
	event *Event
}

// New creates a Stream and starts its worker goroutine.
//
// The name is only used for error messages and logs.
func New(name string) *Stream {
	s := &Stream{
		name:       name,
		workerDone: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.worker()
	return s
}

// Name returns the name given to New.
func (s *Stream) Name() string { return s.name }

// String implements fmt.Stringer.
func (s *Stream) String() string {
	return fmt.Sprintf("stream %q", s.name)
}

// Enqueue appends fn to the stream's queue and returns an Event that resolves
// when fn has finished executing.
//
// Enqueue never waits for fn (or any earlier command) to run. It returns an
// error if the stream has already been destroyed.
func (s *Stream) Enqueue(fn Command) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, errors.Errorf("cannot enqueue on %s: stream already destroyed", s)
	}
	event := newEvent(s)
	s.pending = append(s.pending, &pendingCommand{fn: fn, event: event})
	s.cond.Signal()
	return event, nil
}

// Pending returns the number of commands enqueued but not yet started.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Synchronize blocks until every command enqueued before the call has
// finished executing.
func (s *Stream) Synchronize() error {
	event, err := s.Enqueue(func() {})
	if err != nil {
		return errors.WithMessagef(err, "synchronizing %s", s)
	}
	return event.AwaitAndFree()
}

// Destroy stops the stream: no further commands can be enqueued, and after
// the already-queued commands have run the worker goroutine exits. Destroy
// blocks until then.
//
// A command that never returns (e.g. a baton still running on this stream)
// blocks Destroy forever -- resolve it first.
//
// Destroy is idempotent: the second and later calls only wait for the worker
// to exit.
func (s *Stream) Destroy() error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.cond.Signal()
	}
	s.mu.Unlock()
	<-s.workerDone
	return nil
}

// worker pops and runs commands in enqueue order until the stream is
// destroyed and the queue drained.
func (s *Stream) worker() {
	defer close(s.workerDone)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			// Stopped and drained.
			s.mu.Unlock()
			return
		}
		cmd := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		cmd.fn()
		cmd.event.resolve()
	}
}
