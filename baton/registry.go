package baton

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gomlx/gobaton/streams"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// BackendEnv is the name of the environment variable that selects which
	// registered backend New uses. If unset, DefaultBackend is used.
	BackendEnv = "GOBATON_BACKEND"

	// DefaultBackend is the backend name New falls back to when BackendEnv
	// is not set. It is the name the streambackend sub-package registers
	// itself under.
	DefaultBackend = "stream"
)

// Registry maps backend names to Baton constructors.
//
// Most programs only use the process-wide default registry, through Register
// and New. Tests can build their own with NewRegistry to avoid cross-test
// pollution.
type Registry struct {
	mu       sync.Mutex
	backends map[string]Constructor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Constructor)}
}

// Register adds a backend constructor under the given name.
//
// Registering the same name twice is a programming error -- two backends
// fighting over a name cannot be resolved at runtime -- and is fatal.
func (r *Registry) Register(name string, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.backends[name]; found {
		klog.Fatalf("Baton backend %q registered twice: each backend name must have exactly one constructor.", name)
	}
	r.backends[name] = constructor
}

// Create looks up the named backend and invokes its constructor with the
// given stream and timeout.
//
// A missing backend indicates a build or configuration mismatch (the backend
// package was never imported, or the name is misspelled) and returns a
// descriptive error rather than failing silently deep inside later device
// work.
func (r *Registry) Create(name string, stream *streams.Stream, timeout time.Duration) (Baton, error) {
	r.mu.Lock()
	constructor, found := r.backends[name]
	r.mu.Unlock()
	if !found {
		return nil, errors.Errorf(
			"baton backend %q is not registered (registered backends: %v): "+
				"import the package that provides it (e.g. `import _ \"github.com/gomlx/gobaton/baton/streambackend\"` for %q), "+
				"or set %s to a registered name", name, r.Names(), DefaultBackend, BackendEnv)
	}
	baton, err := constructor(stream, timeout)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating %q baton on %s", name, stream)
	}
	return baton, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := keys(r.backends)
	sort.Strings(names)
	return names
}

// registry is the process-wide default, populated by backend packages at
// init time.
var registry = NewRegistry()

// Register adds a backend constructor to the process-wide registry. Backends
// call it once from their init function. Fatal on duplicate names.
func Register(name string, constructor Constructor) {
	registry.Register(name, constructor)
}

// New creates a Baton bound to the given stream, using the backend selected
// by the GOBATON_BACKEND environment variable -- or DefaultBackend if it is
// not set.
//
// The baton blocks the stream immediately: commands enqueued on the stream
// after this call will not start until the baton resolves, either by the
// timeout elapsing or by a call to Abort. The stream is only referenced, not
// owned; the caller remains responsible for it.
func New(stream *streams.Stream, timeout time.Duration) (Baton, error) {
	name := os.Getenv(BackendEnv)
	if name == "" {
		name = DefaultBackend
	}
	return registry.Create(name, stream, timeout)
}

// NewWithBackend is like New but with an explicit backend name, ignoring
// GOBATON_BACKEND.
func NewWithBackend(name string, stream *streams.Stream, timeout time.Duration) (Baton, error) {
	return registry.Create(name, stream, timeout)
}

// Backends returns the names registered in the process-wide registry.
func Backends() []string {
	return registry.Names()
}
