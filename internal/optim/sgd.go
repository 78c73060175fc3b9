package optim

import (
	"fmt"
	"math"
	"sync"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/tensor"
	"github.com/born-ml/dizo/internal/zo"
)

// SGD applies zeroth-order updates by replaying direction seeds.
//
// Update rule for element i of trainable layer l:
//
//	g = w_l * (1/n) Σ_k c_k u_k(i)  (+ weight_decay * p, unless the parameter is no-decay)
//	velocity = momentum * velocity + g
//	p = q(p - lr * velocity)
//
// q rounds to the parameter lattice. Velocity buffers are allocated only
// when Momentum > 0, so plain SGD keeps no per-parameter state.
//
// Example:
//
//	sgd := optim.NewSGD(optim.SGDConfig{
//	    Momentum:    0.9,
//	    WeightDecay: 0.01,
//	})
type SGD struct {
	momentum    float64
	weightDecay float64
	par         parallel.Config
	velocities  map[*nn.Parameter][]float64
}

// SGDConfig holds configuration for the SGD applier.
type SGDConfig struct {
	Momentum    float64         // Momentum factor (default: 0.0, range: [0, 1))
	WeightDecay float64         // L2 weight decay (default: 0.0)
	Parallel    parallel.Config // Element-parallel execution (default: parallel.DefaultConfig())
}

// NewSGD creates a new SGD applier.
func NewSGD(config SGDConfig) *SGD {
	if config.Parallel == (parallel.Config{}) {
		config.Parallel = parallel.DefaultConfig()
	}
	return &SGD{
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		par:         config.Parallel,
		velocities:  make(map[*nn.Parameter][]float64),
	}
}

// Step applies one update and returns the L2 norm of the applied change.
//
// Returns tensor.ErrShapeMismatch if dir does not carry one weight per
// parameter, and a *tensor.ValueError if an updated value leaves the
// lattice range or is not finite. Both are structural failures; the
// parameters may be partially updated.
func (s *SGD) Step(params []*nn.Parameter, dir zo.Direction, lr float64) (float64, error) {
	if len(dir.Weights) != len(params) {
		return 0, fmt.Errorf("%w: %d direction weights for %d parameters",
			tensor.ErrShapeMismatch, len(dir.Weights), len(params))
	}

	var sq float64
	for l, param := range params {
		n, err := s.updateParameter(l, param, dir, lr)
		if err != nil {
			return 0, err
		}
		sq += n
	}
	return math.Sqrt(sq), nil
}

// updateParameter updates one layer and returns its squared change.
func (s *SGD) updateParameter(l int, param *nn.Parameter, dir zo.Direction, lr float64) (float64, error) {
	data := param.Tensor().Data()
	mixer := dir.Mixer(l)
	w := dir.Weights[l]
	wd := s.weightDecay
	if param.NoDecay() {
		wd = 0
	}

	var velocity []float64
	if s.momentum != 0 {
		velocity = s.velocities[param]
		if velocity == nil {
			velocity = make([]float64, len(data))
			s.velocities[param] = velocity
		}
	}

	var (
		mu  sync.Mutex
		bad *tensor.ValueError
	)
	sq := parallel.Sum(len(data), s.par, func(start, end int) float64 {
		var acc float64
		for i := start; i < end; i++ {
			p := data[i]
			g := w * mixer.At(i)
			if wd != 0 {
				g += wd * p
			}
			if velocity != nil {
				velocity[i] = s.momentum*velocity[i] + g
				g = velocity[i]
			}
			next := tensor.Snap(p - lr*g)
			if math.IsNaN(next) || math.IsInf(next, 0) || math.Abs(next) > tensor.MaxMagnitude {
				mu.Lock()
				if bad == nil || i < bad.Index {
					bad = &tensor.ValueError{Tensor: param.Name(), Index: i, Value: p - lr*g, Err: errFor(next)}
				}
				mu.Unlock()
				continue
			}
			d := next - p
			acc += d * d
			data[i] = next
		}
		return acc
	})
	if bad != nil {
		return 0, bad
	}
	return sq, nil
}

func errFor(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return tensor.ErrNonFinite
	}
	return tensor.ErrLatticeOverflow
}

// Momentum returns the momentum factor.
func (s *SGD) Momentum() float64 {
	return s.momentum
}

// WeightDecay returns the weight decay factor.
func (s *SGD) WeightDecay() float64 {
	return s.weightDecay
}

// StateDict returns the optimizer state for serialization.
//
// For SGD with momentum, this exports velocity buffers for each parameter.
// Without momentum, returns an empty slice.
//
// Entry names: "velocity.{param_index}".
func (s *SGD) StateDict(params []*nn.Parameter) []tensor.Named {
	var state []tensor.Named
	if s.momentum == 0 {
		return state
	}
	for i, param := range params {
		velocity, exists := s.velocities[param]
		if !exists {
			continue // No velocity yet
		}
		t, err := tensor.FromSlice(velocity, param.Tensor().Shape())
		if err != nil {
			continue
		}
		state = append(state, tensor.Named{Name: fmt.Sprintf("velocity.%d", i), Tensor: t})
	}
	return state
}

// LoadStateDict restores velocity buffers exported by StateDict.
//
// Returns an error if a velocity shape doesn't match its parameter.
func (s *SGD) LoadStateDict(params []*nn.Parameter, state []tensor.Named) error {
	if s.momentum == 0 {
		return nil
	}
	byName := make(map[string]*tensor.Tensor, len(state))
	for _, e := range state {
		byName[e.Name] = e.Tensor
	}

	s.velocities = make(map[*nn.Parameter][]float64)
	for i, param := range params {
		v, exists := byName[fmt.Sprintf("velocity.%d", i)]
		if !exists {
			continue // Initialized on first step
		}
		if !v.Shape().Equal(param.Tensor().Shape()) {
			return fmt.Errorf("%w: velocity for parameter %d: expected %v, got %v",
				tensor.ErrShapeMismatch, i, param.Tensor().Shape(), v.Shape())
		}
		s.velocities[param] = append([]float64(nil), v.Data()...)
	}
	return nil
}
