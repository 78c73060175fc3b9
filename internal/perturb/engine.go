// Package perturb applies seeded random perturbations to parameter
// tensors in place and undoes them exactly.
//
// A perturbation adds Scale * q(Epsilon * z) to every element, where z is
// the standard normal value generated for (seed, tensor index, element
// index) and q rounds to the parameter lattice. Because both the
// parameters and the step are lattice values, Perturb followed by the
// same Perturb with the opposite Scale restores every bit.
package perturb

import (
	"fmt"
	"math"

	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/tensor"
)

// MaxScale is the largest |Scale| the estimator uses (the +1, -2, +1 sequence).
const MaxScale = 2

// Spec describes one perturbation.
type Spec struct {
	Seed    uint64  // Direction seed
	Epsilon float64 // Step magnitude
	Scale   int     // Integer multiple of the step, e.g. +1, -2
}

// Config configures an Engine.
type Config struct {
	Parallel parallel.Config // Element-parallel execution (default: parallel.DefaultConfig())
}

// Engine perturbs parameter tensors.
//
// An Engine holds no per-parameter state; the only memory it touches is
// the parameter storage itself.
type Engine struct {
	par parallel.Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Parallel == (parallel.Config{}) {
		cfg.Parallel = parallel.DefaultConfig()
	}
	return &Engine{par: cfg.Parallel}
}

// ValidateEpsilon checks that epsilon keeps every intermediate sum of the
// perturbation sequence exact on the lattice.
func ValidateEpsilon(eps float64) error {
	if math.IsNaN(eps) || math.IsInf(eps, 0) || eps <= 0 {
		return fmt.Errorf("epsilon must be positive and finite, got %g", eps)
	}
	if eps*MaxNormal*MaxScale > tensor.Headroom {
		return fmt.Errorf("epsilon %g exceeds lattice headroom %d", eps, tensor.Headroom)
	}
	if tensor.Snap(eps*MaxNormal) == 0 {
		return fmt.Errorf("epsilon %g is below the lattice resolution %g", eps, tensor.Quantum)
	}
	return nil
}

// Step returns the lattice step of element i: q(eps * z).
func Step(key uint64, i int, eps float64) float64 {
	return tensor.Snap(eps * Normal(key, i))
}

// Perturb adds s.Scale * q(s.Epsilon * z) to every element of ts in place.
//
// Unperturb restores the exact bits only if every element of ts is on the
// parameter lattice (tensor.OnLattice) and epsilon passes ValidateEpsilon.
// Snap the tensors first, as trainer.New does through ParameterSet.Snap;
// off-lattice values may come back rounded.
func (e *Engine) Perturb(ts []*tensor.Tensor, s Spec) {
	scale := float64(s.Scale)
	for layer, t := range ts {
		key := LayerKey(s.Seed, layer)
		data := t.Data()
		parallel.Range(len(data), e.par, func(start, end int) {
			for i := start; i < end; i++ {
				data[i] += scale * Step(key, i, s.Epsilon)
			}
		})
	}
}

// Unperturb reverses Perturb(ts, s).
func (e *Engine) Unperturb(ts []*tensor.Tensor, s Spec) {
	s.Scale = -s.Scale
	e.Perturb(ts, s)
}

// Parallel returns the engine's parallel configuration.
func (e *Engine) Parallel() parallel.Config {
	return e.par
}
