// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"io"

	"github.com/born-ml/dizo/internal/tensor"
)

// Tensor is a dense row-major float64 tensor.
type Tensor = tensor.Tensor

// Shape is a tensor shape.
type Shape = tensor.Shape

// Named pairs a tensor with its parameter name.
type Named = tensor.Named

// ValueError reports an element that cannot be placed on the lattice.
type ValueError = tensor.ValueError

// Lattice constants.
const (
	LatticeBits  = tensor.LatticeBits
	Quantum      = tensor.Quantum
	MaxMagnitude = tensor.MaxMagnitude
)

// Errors.
var (
	ErrShapeMismatch    = tensor.ErrShapeMismatch
	ErrLatticeOverflow  = tensor.ErrLatticeOverflow
	ErrNonFinite        = tensor.ErrNonFinite
	ErrChecksumMismatch = tensor.ErrChecksumMismatch
)

// Zeros creates a zero tensor.
func Zeros(shape Shape) *Tensor {
	return tensor.Zeros(shape)
}

// Full creates a tensor filled with value.
func Full(shape Shape, value float64) *Tensor {
	return tensor.Full(shape, value)
}

// FromSlice creates a tensor from data, which must match shape.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}

// Snap rounds v to the nearest lattice point.
func Snap(v float64) float64 {
	return tensor.Snap(v)
}

// Fingerprint returns the SHA-256 digest of the exact contents of ts.
func Fingerprint(ts []*Tensor) [32]byte {
	return tensor.Fingerprint(ts)
}

// WriteCheckpoint writes named tensors as a compressed checkpoint.
func WriteCheckpoint(w io.Writer, entries []Named) error {
	return tensor.WriteCheckpoint(w, entries)
}

// ReadCheckpoint reads a checkpoint written by WriteCheckpoint.
func ReadCheckpoint(r io.Reader) ([]Named, error) {
	return tensor.ReadCheckpoint(r)
}
