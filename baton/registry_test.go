package baton

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/gobaton/streams"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// fakeBaton simulates a device stream with a background goroutine that polls
// a shared flag every millisecond. It is registered into test-local
// registries, never the process-wide one, to avoid cross-test pollution.
type fakeBaton struct {
	word atomic.Uint32
}

const (
	fakeAbortBit uint32 = 1 << iota
	fakeStartedBit
	fakeTimedOutBit
	fakeAbortedBit
)

func newFakeBaton(_ *streams.Stream, timeout time.Duration) (Baton, error) {
	b := &fakeBaton{}
	go func() {
		b.word.Or(fakeStartedBit)
		start := time.Now()
		for {
			if b.word.Load()&fakeAbortBit != 0 {
				b.word.Or(fakeAbortedBit)
				return
			}
			if time.Since(start) >= timeout {
				b.word.Or(fakeTimedOutBit)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return b, nil
}

func (b *fakeBaton) Abort() {
	b.word.Or(fakeAbortBit)
}

func (b *fakeBaton) Status() Status {
	word := b.word.Load()
	switch {
	case word&fakeAbortedBit != 0:
		return StatusAborted
	case word&fakeTimedOutBit != 0:
		return StatusTimedOut
	case word&fakeStartedBit != 0:
		return StatusRunning
	default:
		return StatusUnknown
	}
}

func (b *fakeBaton) Destroy() error { return nil }

// awaitTerminal polls status until it is terminal, returning the elapsed time.
func awaitTerminal(t *testing.T, b Baton, limit time.Duration) time.Duration {
	start := time.Now()
	for !b.Status().Terminal() {
		require.Less(t, time.Since(start), limit, "baton did not resolve within %s (status=%s)", limit, b.Status())
		time.Sleep(time.Millisecond)
	}
	return time.Since(start)
}

func TestRegistryUnknownBackend(t *testing.T) {
	stream := streams.New("registry-unknown")
	defer func() { must.M(stream.Destroy()) }()

	registry := NewRegistry()
	_, err := registry.Create("cuda", stream, time.Second)
	require.Error(t, err)
	require.ErrorContains(t, err, `"cuda" is not registered`)

	registry.Register("fake", newFakeBaton)
	_, err = registry.Create("cuda", stream, time.Second)
	require.ErrorContains(t, err, "fake", "error must list the registered backends")
	require.Equal(t, []string{"fake"}, registry.Names())
}

func TestRegistryCreate(t *testing.T) {
	stream := streams.New("registry-create")
	defer func() { must.M(stream.Destroy()) }()

	registry := NewRegistry()
	registry.Register("fake", newFakeBaton)
	b := must.M1(registry.Create("fake", stream, time.Minute))
	require.NotNil(t, b)

	// Immediately after construction the baton must not be terminal yet.
	status := b.Status()
	require.Contains(t, []Status{StatusUnknown, StatusRunning}, status)

	b.Abort()
	awaitTerminal(t, b, time.Second)
	require.Equal(t, StatusAborted, b.Status())
	require.NoError(t, b.Destroy())
}

func TestFakeBackendTimesOut(t *testing.T) {
	stream := streams.New("fake-timeout")
	defer func() { must.M(stream.Destroy()) }()

	registry := NewRegistry()
	registry.Register("fake", newFakeBaton)

	const timeout = 50 * time.Millisecond
	b := must.M1(registry.Create("fake", stream, timeout))
	elapsed := awaitTerminal(t, b, time.Second)
	require.Equal(t, StatusTimedOut, b.Status())
	require.GreaterOrEqual(t, elapsed, timeout, "a baton must never time out before its timeout")
	require.NoError(t, b.Destroy())
}

func TestFakeBackendAborts(t *testing.T) {
	stream := streams.New("fake-abort")
	defer func() { must.M(stream.Destroy()) }()

	registry := NewRegistry()
	registry.Register("fake", newFakeBaton)

	// Abort immediately after construction: the terminal state must be
	// StatusAborted, never StatusTimedOut, across repeated trials.
	for range 20 {
		b := must.M1(registry.Create("fake", stream, time.Minute))
		b.Abort()
		awaitTerminal(t, b, time.Second)
		require.Equal(t, StatusAborted, b.Status())
		require.NoError(t, b.Destroy())
	}
}

func TestStatusStrings(t *testing.T) {
	require.Equal(t, "Unknown", StatusUnknown.String())
	require.Equal(t, "Running", StatusRunning.String())
	require.Equal(t, "TimedOut", StatusTimedOut.String())
	require.Equal(t, "Aborted", StatusAborted.String())

	status, err := StatusString("aborted")
	require.NoError(t, err)
	require.Equal(t, StatusAborted, status)

	require.False(t, StatusUnknown.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.True(t, StatusTimedOut.Terminal())
	require.True(t, StatusAborted.Terminal())
}
