package tensor

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrShapeMismatch      = errors.New("tensor shape mismatch")
	ErrLatticeOverflow    = errors.New("value outside the parameter lattice range")
	ErrNonFinite          = errors.New("non-finite tensor value")
	ErrChecksumMismatch   = errors.New("checksum mismatch: checkpoint may be corrupted")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
)

// ValueError reports a tensor element that cannot be placed on the lattice.
type ValueError struct {
	Tensor string  // Tensor name, when known
	Index  int     // Flat element index
	Value  float64 // Offending value
	Err    error   // ErrLatticeOverflow or ErrNonFinite
}

// Error implements the error interface.
func (e *ValueError) Error() string {
	if e.Tensor != "" {
		return fmt.Sprintf("tensor %q element %d = %g: %v", e.Tensor, e.Index, e.Value, e.Err)
	}
	return fmt.Sprintf("element %d = %g: %v", e.Index, e.Value, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *ValueError) Unwrap() error {
	return e.Err
}
