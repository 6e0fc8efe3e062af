// Package model runs pre-compiled kernel sequences ("programs") on a device
// stream, the way a compiled-model wrapper would: kernels dispatch in order,
// asynchronously from the host, and a controller can stall the whole program
// behind a baton.
//
// It is deliberately small: kernels are pre-built Go functions (see
// kernels.go), buffers are flat float32 tensors, and the constant map is a
// plain name->buffer table attached to the program.
package model

import (
	"fmt"
	"time"

	"github.com/gomlx/gobaton/baton"
	"github.com/gomlx/gobaton/streams"
	"github.com/pkg/errors"
)

// Step is one kernel dispatch in a Program: it reads the named input buffers
// (program constants, execution inputs, or outputs of earlier steps) and
// writes a freshly allocated output buffer with the given dimensions.
type Step struct {
	Name       string
	Kernel     Kernel
	Inputs     []string
	Output     string
	OutputDims []int
}

// Program is an ordered sequence of kernel dispatches plus a constant map.
// Build it once, execute it many times (also concurrently, on different
// streams).
type Program struct {
	name      string
	steps     []Step
	constants map[string]*Buffer
}

// NewProgram creates a Program from the given steps.
func NewProgram(name string, steps ...Step) *Program {
	return &Program{
		name:      name,
		steps:     steps,
		constants: make(map[string]*Buffer),
	}
}

// AddConstant attaches a named constant buffer, readable by every step.
func (p *Program) AddConstant(name string, b *Buffer) *Program {
	p.constants[name] = b
	return p
}

// String implements fmt.Stringer.
func (p *Program) String() string {
	return fmt.Sprintf("program %q (%d steps)", p.name, len(p.steps))
}

// Runner binds a Program to the stream it executes on.
type Runner struct {
	program *Program
	stream  *streams.Stream
}

// NewRunner creates a Runner executing program on stream. The stream is only
// referenced, not owned.
func NewRunner(program *Program, stream *streams.Stream) *Runner {
	return &Runner{program: program, stream: stream}
}

// Stall plants a baton on the runner's stream: executions enqueued after
// this call will not start until the returned baton resolves -- by the
// controller aborting it, or by the timeout elapsing. See the baton package
// for the semantics.
func (r *Runner) Stall(timeout time.Duration) (baton.Baton, error) {
	return baton.New(r.stream, timeout)
}

// Execute enqueues the program's kernels on the stream, one command per
// step, and returns immediately with an Execution handle. The named inputs
// must cover every step input that is neither a constant nor an earlier
// step's output.
func (r *Runner) Execute(inputs map[string]*Buffer) (*Execution, error) {
	// Resolve the environment up-front, so wiring mistakes surface here and
	// not asynchronously inside the stream.
	env := make(map[string]*Buffer, len(r.program.constants)+len(inputs)+len(r.program.steps))
	for name, b := range r.program.constants {
		env[name] = b
	}
	for name, b := range inputs {
		if _, found := env[name]; found {
			return nil, errors.Errorf("executing %s: input %q shadows a program constant", r.program, name)
		}
		env[name] = b
	}

	exec := &Execution{outputs: make(map[string]*Buffer, len(r.program.steps))}
	for _, step := range r.program.steps {
		stepInputs := make([]*Buffer, len(step.Inputs))
		for ii, name := range step.Inputs {
			in, found := env[name]
			if !found {
				return nil, errors.Errorf("executing %s: step %q reads %q, which is not a constant, an input, or an earlier output",
					r.program, step.Name, name)
			}
			stepInputs[ii] = in
		}
		output := NewBuffer(step.OutputDims...)
		env[step.Output] = output
		exec.outputs[step.Output] = output

		step := step
		event, err := r.stream.Enqueue(func() {
			if exec.err != nil {
				// An earlier step failed, skip the rest of the program.
				return
			}
			if err := step.Kernel(stepInputs, output); err != nil {
				exec.err = errors.WithMessagef(err, "%s, step %q", r.program, step.Name)
			}
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "enqueueing step %q of %s", step.Name, r.program)
		}
		exec.lastEvent = event
	}
	if exec.lastEvent == nil {
		return nil, errors.Errorf("executing %s: program has no steps", r.program)
	}
	return exec, nil
}

// Execution is a handle to one in-flight run of a Program.
type Execution struct {
	// err is written only by stream commands; Await's event resolution
	// orders it before any host read.
	err       error
	lastEvent *streams.Event
	outputs   map[string]*Buffer
}

// Event returns the completion event of the execution's last step.
func (e *Execution) Event() *streams.Event { return e.lastEvent }

// Await blocks until the execution finished and returns the first step
// error, if any.
func (e *Execution) Await() error {
	if err := e.lastEvent.Await(); err != nil {
		return err
	}
	return e.err
}

// AwaitTimeout is like Await but gives up with an error after the given
// duration -- e.g. when the stream may still be stalled behind a baton.
func (e *Execution) AwaitTimeout(timeout time.Duration) error {
	if err := e.lastEvent.AwaitTimeout(timeout); err != nil {
		return err
	}
	return e.err
}

// Output returns the named step output. Only read it after Await (or
// AwaitTimeout) succeeded.
func (e *Execution) Output(name string) (*Buffer, error) {
	b, found := e.outputs[name]
	if !found {
		return nil, errors.Errorf("execution has no output %q (outputs: %v)", name, keys(e.outputs))
	}
	return b, nil
}

// keys returns the keys of a map in the form of a slice.
func keys[K comparable, V any](m map[K]V) []K {
	s := make([]K, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}
