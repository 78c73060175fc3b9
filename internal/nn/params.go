package nn

import (
	"fmt"

	"github.com/born-ml/dizo/internal/tensor"
)

// ParameterSet is the ordered collection of a model's parameters.
//
// Order is significant: the perturbation engine keys its random
// directions by the position of each trainable tensor, so a set must be
// built in the same order on every replica and every replay.
type ParameterSet struct {
	params    []*Parameter
	trainable []*Parameter
}

// NewParameterSet builds a set from params in the given order.
//
// Returns an error on duplicate names.
func NewParameterSet(params ...*Parameter) (*ParameterSet, error) {
	seen := make(map[string]struct{}, len(params))
	s := &ParameterSet{params: params}
	for _, p := range params {
		if _, dup := seen[p.name]; dup {
			return nil, fmt.Errorf("duplicate parameter name %q", p.name)
		}
		seen[p.name] = struct{}{}
		if p.trainable {
			s.trainable = append(s.trainable, p)
		}
	}
	return s, nil
}

// All returns every parameter, trainable or not.
func (s *ParameterSet) All() []*Parameter {
	return s.params
}

// Trainable returns the trainable parameters in order.
func (s *ParameterSet) Trainable() []*Parameter {
	return s.trainable
}

// Tensors returns the trainable tensors in order.
func (s *ParameterSet) Tensors() []*tensor.Tensor {
	ts := make([]*tensor.Tensor, len(s.trainable))
	for i, p := range s.trainable {
		ts[i] = p.tensor
	}
	return ts
}

// NumElements returns the number of trainable scalars.
func (s *ParameterSet) NumElements() int {
	n := 0
	for _, p := range s.trainable {
		n += p.tensor.NumElements()
	}
	return n
}

// Lookup returns the parameter with the given name.
func (s *ParameterSet) Lookup(name string) (*Parameter, bool) {
	for _, p := range s.params {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Snap places every trainable tensor on the parameter lattice.
//
// The zeroth-order loop requires lattice values to guarantee exact
// perturbation reversal; call Snap once before training.
func (s *ParameterSet) Snap() error {
	for _, p := range s.trainable {
		if err := p.tensor.SnapInPlace(p.name); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint returns the SHA-256 fingerprint of the trainable tensors.
func (s *ParameterSet) Fingerprint() [32]byte {
	return tensor.Fingerprint(s.Tensors())
}

// Named returns all parameters as name/tensor pairs for checkpointing.
func (s *ParameterSet) Named() []tensor.Named {
	out := make([]tensor.Named, len(s.params))
	for i, p := range s.params {
		out[i] = tensor.Named{Name: p.name, Tensor: p.tensor}
	}
	return out
}

// Load copies values from checkpoint entries into the set by name.
//
// Every parameter of the set must be present with a matching shape.
func (s *ParameterSet) Load(entries []tensor.Named) error {
	byName := make(map[string]*tensor.Tensor, len(entries))
	for _, e := range entries {
		byName[e.Name] = e.Tensor
	}
	for _, p := range s.params {
		src, ok := byName[p.name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", p.name)
		}
		if err := p.tensor.CopyFrom(src); err != nil {
			return fmt.Errorf("parameter %q: %w", p.name, err)
		}
	}
	return nil
}
