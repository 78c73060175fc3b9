package zo

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrParameterDrift is returned when a perturbation round trip does not
// restore the parameters bit-for-bit. It is fatal: training on silently
// corrupted parameters is never acceptable.
var ErrParameterDrift = errors.New("parameters drifted across perturbation round trip")

// DriftError carries the fingerprints observed around the failed round trip.
type DriftError struct {
	Seed   uint64   // Base seed of the step
	Before [32]byte // Fingerprint before estimation
	After  [32]byte // Fingerprint after restoration
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	return fmt.Sprintf("%v: seed %d, fingerprint %x -> %x", ErrParameterDrift, e.Seed, e.Before[:6], e.After[:6])
}

// Unwrap returns ErrParameterDrift.
func (e *DriftError) Unwrap() error {
	return ErrParameterDrift
}
