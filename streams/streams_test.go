package streams

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestStreamOrdering(t *testing.T) {
	stream := New("ordering")
	defer func() { must.M(stream.Destroy()) }()

	const numCommands = 100
	var order []int
	for ii := range numCommands {
		ii := ii
		_ = must.M1(stream.Enqueue(func() {
			order = append(order, ii)
		}))
	}
	require.NoError(t, stream.Synchronize())

	require.Len(t, order, numCommands)
	for ii, got := range order {
		require.Equal(t, ii, got, "commands must run in enqueue order")
	}
}

func TestStreamCommandBlocksLaterCommands(t *testing.T) {
	stream := New("blocking")
	defer func() { must.M(stream.Destroy()) }()

	release := make(chan struct{})
	var ran atomic.Bool
	blocker := must.M1(stream.Enqueue(func() { <-release }))
	after := must.M1(stream.Enqueue(func() { ran.Store(true) }))

	time.Sleep(20 * time.Millisecond)
	require.False(t, ran.Load(), "command enqueued after a blocked one must not run")
	require.False(t, blocker.Done())
	require.GreaterOrEqual(t, stream.Pending(), 1)

	close(release)
	require.NoError(t, after.AwaitAndFree())
	require.True(t, ran.Load())
	require.True(t, blocker.Done())
	require.NoError(t, blocker.Destroy())
}

func TestEventAwaitTimeout(t *testing.T) {
	stream := New("await-timeout")
	defer func() { must.M(stream.Destroy()) }()

	release := make(chan struct{})
	event := must.M1(stream.Enqueue(func() { <-release }))

	err := event.AwaitTimeout(10 * time.Millisecond)
	require.Error(t, err, "event of a blocked command must time out")

	close(release)
	require.NoError(t, event.AwaitTimeout(time.Second))
	require.True(t, event.Done())
	require.NoError(t, event.Destroy())

	// Awaiting a destroyed event is an error, not a hang.
	require.Error(t, event.Await())
	require.NoError(t, event.Destroy(), "Destroy is idempotent")
}

func TestEnqueueAfterDestroy(t *testing.T) {
	stream := New("destroyed")
	require.NoError(t, stream.Destroy())

	_, err := stream.Enqueue(func() {})
	require.ErrorContains(t, err, "already destroyed")
	require.NoError(t, stream.Destroy(), "Destroy is idempotent")
}

func TestDestroyDrainsQueuedCommands(t *testing.T) {
	stream := New("drain")
	var counter atomic.Int32
	for range 10 {
		_ = must.M1(stream.Enqueue(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		}))
	}
	require.NoError(t, stream.Destroy())
	require.Equal(t, int32(10), counter.Load(), "Destroy must let already-queued commands run")
}

func TestSynchronize(t *testing.T) {
	stream := New("sync")
	defer func() { must.M(stream.Destroy()) }()

	var done atomic.Bool
	_ = must.M1(stream.Enqueue(func() {
		time.Sleep(10 * time.Millisecond)
		done.Store(true)
	}))
	require.NoError(t, stream.Synchronize())
	require.True(t, done.Load())
	require.Equal(t, 0, stream.Pending())
}
