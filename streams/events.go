package streams

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event is a reference to the future completion of a command enqueued onto a
// Stream.
//
// It resolves when the command has finished executing -- which, because
// commands run in enqueue order, also means every command enqueued before it
// has finished.
type Event struct {
	stream *Stream

	// done is closed by the stream worker when the command finishes.
	done      chan struct{}
	destroyed atomic.Bool
}

// newEvent creates an Event and registers it for freeing.
func newEvent(s *Stream) *Event {
	e := &Event{
		stream: s,
		done:   make(chan struct{}),
	}
	runtime.SetFinalizer(e, func(e *Event) {
		if err := e.Destroy(); err != nil {
			klog.Errorf("Event.Destroy failed: %v", err)
		}
	})
	return e
}

// resolve is called by the stream worker once the command has returned.
func (e *Event) resolve() {
	close(e.done)
}

// Done reports whether the event has resolved, without blocking.
func (e *Event) Done() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Await blocks the calling goroutine until the event resolves.
func (e *Event) Await() error {
	if e == nil || e.destroyed.Load() {
		return errors.New("Event is nil or has already been destroyed")
	}
	<-e.done
	return nil
}

// AwaitTimeout blocks until the event resolves or the given duration elapses,
// in which case it returns an error.
func (e *Event) AwaitTimeout(timeout time.Duration) error {
	if e == nil || e.destroyed.Load() {
		return errors.New("Event is nil or has already been destroyed")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return nil
	case <-timer.C:
		return errors.Errorf("event on %s not resolved after %s", e.stream, timeout)
	}
}

// AwaitAndFree blocks until the event resolves, destroys the event and then
// returns the error, if any.
//
// An error destroying the event is simply reported in the logs, but not
// returned.
func (e *Event) AwaitAndFree() error {
	err := e.Await()
	if err2 := e.Destroy(); err2 != nil {
		klog.Errorf("Error destroying an event already waited: %+v", err2)
	}
	return err
}

// Destroy the Event, after which it is no longer valid. This is automatically
// called if the Event is garbage collected.
func (e *Event) Destroy() error {
	if e == nil || e.destroyed.Swap(true) {
		// Already destroyed, no-op.
		return nil
	}
	runtime.SetFinalizer(e, nil)
	e.stream = nil
	return nil
}
