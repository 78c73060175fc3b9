package nn

import (
	"strings"

	"github.com/born-ml/dizo/internal/tensor"
)

// Parameter represents a named model tensor.
//
// Trainable parameters are the ones the zeroth-order loop perturbs and
// updates. Frozen parameters (for example the base weights in low-rank
// adapter mode) are read by the loss but never mutated by the core.
//
// Example:
//
//	weight := nn.NewParameter("linear.weight", weightTensor)
//	bias := nn.NewParameter("linear.bias", biasTensor)
//	base := nn.NewFrozen("linear.base", baseTensor)
type Parameter struct {
	name      string         // Parameter name (e.g., "linear.weight")
	tensor    *tensor.Tensor // The parameter tensor
	trainable bool
	noDecay   bool // Excluded from weight decay
}

// NewParameter creates a new trainable parameter.
//
// Weight decay is disabled automatically for biases and normalisation
// parameters, matching the usual fine-tuning convention.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:      name,
		tensor:    t,
		trainable: true,
		noDecay:   isNoDecayName(name),
	}
}

// NewFrozen creates a parameter that is visible to the model but not trained.
func NewFrozen(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:    name,
		tensor:  t,
		noDecay: true,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Trainable reports whether the parameter is optimised.
func (p *Parameter) Trainable() bool {
	return p.trainable
}

// NoDecay reports whether weight decay is skipped for this parameter.
func (p *Parameter) NoDecay() bool {
	return p.noDecay
}

func isNoDecayName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "bias") ||
		strings.Contains(lower, "layer_norm") ||
		strings.Contains(lower, "layernorm")
}
