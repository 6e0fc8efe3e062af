// batondemo stalls a device stream behind a baton and prints the status
// transitions the host observes, either until the baton times out or until
// it is aborted after -abort_after.
//
// Examples:
//
//	batondemo -timeout=500ms                   # let the baton time out
//	batondemo -timeout=10s -abort_after=200ms  # abort it from the host
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/gomlx/gobaton/baton"
	"github.com/gomlx/gobaton/streams"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gobaton/baton/streambackend"
)

var (
	flagTimeout    = flag.Duration("timeout", time.Second, "baton timeout")
	flagAbortAfter = flag.Duration("abort_after", 0, "abort the baton after this long; 0 lets it time out")
	flagBackend    = flag.String("backend", "", "baton backend name; empty uses $GOBATON_BACKEND or the default")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	stream := streams.New("demo")
	defer func() { must.M(stream.Destroy()) }()

	start := time.Now()
	var b baton.Baton
	if *flagBackend != "" {
		b = must.M1(baton.NewWithBackend(*flagBackend, stream, *flagTimeout))
	} else {
		b = must.M1(baton.New(stream, *flagTimeout))
	}
	fmt.Printf("Baton created on %s with timeout %s (backends registered: %v)\n",
		stream, *flagTimeout, baton.Backends())

	// Work enqueued behind the baton: it only runs once the baton resolves.
	released := must.M1(stream.Enqueue(func() {
		fmt.Printf("[%8s] stream released, queued work running\n", time.Since(start).Round(time.Millisecond))
	}))

	if *flagAbortAfter > 0 {
		go func() {
			time.Sleep(*flagAbortAfter)
			fmt.Printf("[%8s] calling Abort\n", time.Since(start).Round(time.Millisecond))
			b.Abort()
		}()
	}

	// Watch the host-visible status until it turns terminal.
	last := baton.Status(-1)
	for {
		if status := b.Status(); status != last {
			fmt.Printf("[%8s] status=%s\n", time.Since(start).Round(time.Millisecond), status)
			last = status
		}
		if last.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	must.M(released.AwaitAndFree())
	must.M(b.Destroy())
	fmt.Printf("[%8s] done, final status: %s\n", time.Since(start).Round(time.Millisecond), last)
}
