package model

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Buffer holds a tensor resident on the simulated device: a flat float32
// slice plus its dimensions, row-major.
//
// Buffers handed to Runner.Execute must not be mutated by the host while an
// execution that uses them is in flight; read them back after the execution's
// event resolves.
type Buffer struct {
	dims []int
	flat []float32
}

// NewBuffer creates a zero-initialized Buffer with the given dimensions.
// No dimensions mean a scalar.
func NewBuffer(dims ...int) *Buffer {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return &Buffer{
		dims: append([]int{}, dims...),
		flat: make([]float32, size),
	}
}

// Dims returns the buffer's dimensions. The returned slice is owned by the
// buffer, don't change it.
func (b *Buffer) Dims() []int { return b.dims }

// Size returns the number of elements in the buffer.
func (b *Buffer) Size() int { return len(b.flat) }

// Flat returns the buffer's storage as a flat row-major slice. It aliases
// the device data: see the mutation caveat on Buffer.
func (b *Buffer) Flat() []float32 { return b.flat }

// SetFlat copies values into the buffer. The length must match Size.
func (b *Buffer) SetFlat(values []float32) error {
	if len(values) != len(b.flat) {
		return errors.Errorf("SetFlat with %d values on a buffer of size %d (dims=%v)",
			len(values), len(b.flat), b.dims)
	}
	copy(b.flat, values)
	return nil
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	return fmt.Sprintf("buffer(dims=%v)", b.dims)
}

// BufferFromFloat16 creates a Buffer from half-precision values given as raw
// IEEE 754 binary16 bits, the common on-the-wire form for accelerator
// weights. The number of values must match the given dimensions.
func BufferFromFloat16(raw []uint16, dims ...int) (*Buffer, error) {
	b := NewBuffer(dims...)
	if len(raw) != len(b.flat) {
		return nil, errors.Errorf("BufferFromFloat16 with %d values for dims %v (size %d)",
			len(raw), dims, len(b.flat))
	}
	for ii, bits := range raw {
		b.flat[ii] = float16.Frombits(bits).Float32()
	}
	return b, nil
}

// ToFloat16 converts the buffer's values to half-precision, returned as raw
// IEEE 754 binary16 bits. Values outside the float16 range convert to
// infinities, as defined by the format.
func (b *Buffer) ToFloat16() []uint16 {
	raw := make([]uint16, len(b.flat))
	for ii, value := range b.flat {
		raw[ii] = float16.Fromfloat32(value).Bits()
	}
	return raw
}
