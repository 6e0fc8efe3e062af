package model

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// This file holds a few pre-compiled kernels, enough to assemble small test
// programs. A Kernel runs on the device side of a stream: it must only touch
// its input and output buffers.

// Kernel computes one output buffer from its input buffers.
type Kernel func(inputs []*Buffer, output *Buffer) error

// Softmax computes a numerically stable softmax over the single input
// buffer, treated as one flat vector.
func Softmax(inputs []*Buffer, output *Buffer) error {
	if err := checkArity("Softmax", inputs, 1, output); err != nil {
		return err
	}
	in, out := inputs[0].flat, output.flat
	maxValue := math32.Inf(-1)
	for _, v := range in {
		maxValue = math32.Max(maxValue, v)
	}
	var sum float32
	for ii, v := range in {
		out[ii] = math32.Exp(v - maxValue)
		sum += out[ii]
	}
	for ii := range out {
		out[ii] /= sum
	}
	return nil
}

// Gelu computes the Gaussian error linear unit, element-wise, using the
// usual tanh approximation.
func Gelu(inputs []*Buffer, output *Buffer) error {
	if err := checkArity("Gelu", inputs, 1, output); err != nil {
		return err
	}
	in, out := inputs[0].flat, output.flat
	c := math32.Sqrt(2 / math32.Pi)
	for ii, x := range in {
		out[ii] = 0.5 * x * (1 + math32.Tanh(c*(x+0.044715*x*x*x)))
	}
	return nil
}

// Axpy returns a kernel computing alpha*x+y, element-wise, from its two
// inputs x and y.
func Axpy(alpha float32) Kernel {
	return func(inputs []*Buffer, output *Buffer) error {
		if err := checkArity("Axpy", inputs, 2, output); err != nil {
			return err
		}
		x, y, out := inputs[0].flat, inputs[1].flat, output.flat
		for ii := range out {
			out[ii] = alpha*x[ii] + y[ii]
		}
		return nil
	}
}

// checkArity validates input count and that all buffer sizes match the
// output's.
func checkArity(name string, inputs []*Buffer, want int, output *Buffer) error {
	if len(inputs) != want {
		return errors.Errorf("%s kernel takes %d input(s), got %d", name, want, len(inputs))
	}
	for ii, in := range inputs {
		if in.Size() != output.Size() {
			return errors.Errorf("%s kernel input #%d has size %d, output has size %d",
				name, ii, in.Size(), output.Size())
		}
	}
	return nil
}
