// Package gobaton is the root of the gobaton module, a synchronization
// primitive ("baton") that lets a host-side controller indefinitely stall,
// and later release or abort, a stream of work queued on an accelerator
// device -- without the device polling host memory directly or the host
// synchronously waiting on the device.
//
// The root package is empty; the module is organized in sub-packages:
//
//   - baton: the Baton contract, its Status vocabulary and the name-keyed
//     backend registry.
//   - baton/streambackend: the default backend, driving streams.Stream with
//     a shared atomic control word. Import it for its side effects.
//   - streams: ordered asynchronous command streams and their completion
//     events -- the device side of the primitive.
//   - model: a small compiled-model runner that dispatches pre-built kernels
//     on a stream and can stall executions behind a baton.
package gobaton
