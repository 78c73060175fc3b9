// Package projection learns per-layer scaling factors for the drift of
// the trainable parameters away from their pre-trained values, and uses
// them to reweight and clip zeroth-order update directions.
//
// Every included layer l keeps an anchor a_l (the values at construction)
// and a scalar gamma_l. A refresh learns gamma from a few batches and
// commits
//
//	p_l = a_l + (p_l - a_l) * gamma_l / ‖p_l - a_l‖
//
// Between refreshes, Project scales the update direction of each layer by
// the ratio the last commit applied to its drift.
//
// Each cycle starts gamma at the current drift measure of the layer. In
// MARS mode that is the mean row L1 norm, not the layer L2 norm, so the
// starting point matches the quantity a MARS commit rescales.
package projection

import (
	"fmt"
	"math"
	"path"

	"github.com/rs/zerolog"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/tensor"
	"github.com/born-ml/dizo/internal/zo"
)

// Projector holds the projection state of one run.
type Projector struct {
	cfg       Config
	params    []*nn.Parameter  // Trainable parameters, in estimation order
	layers    []int            // Indices into params of projected layers
	anchors   []*tensor.Tensor // Anchor per projected layer
	gammas    []float64        // Factors of the last refresh, per projected layer
	weights   []float64        // Update weight per trainable parameter
	refreshes int
	log       zerolog.Logger
}

// New creates a Projector for the trainable parameters of set and
// snapshots their current values as anchors.
func New(set *nn.ParameterSet, cfg Config) (*Projector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for _, pattern := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid layer pattern %q: %w", pattern, err)
		}
	}

	params := set.Trainable()
	p := &Projector{
		cfg:     cfg,
		params:  params,
		weights: make([]float64, len(params)),
		log:     cfg.Logger.With().Str("component", "projection").Logger(),
	}
	for i := range p.weights {
		p.weights[i] = 1
	}
	if cfg.Mode == ModeNone {
		return p, nil
	}
	for i, param := range params {
		if !selected(param.Name(), cfg.Include, cfg.Exclude) {
			continue
		}
		p.layers = append(p.layers, i)
		p.anchors = append(p.anchors, param.Tensor().Clone())
	}
	p.gammas = make([]float64, len(p.layers))
	return p, nil
}

func selected(name string, include, exclude []string) bool {
	if len(include) > 0 && !matchAny(name, include) {
		return false
	}
	return !matchAny(name, exclude)
}

func matchAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Enabled reports whether the projector learns anything.
func (p *Projector) Enabled() bool {
	return p.cfg.Mode != ModeNone && len(p.layers) > 0
}

// Mode returns the projection mode.
func (p *Projector) Mode() Mode {
	return p.cfg.Mode
}

// Layers returns the names of the projected parameters.
func (p *Projector) Layers() []string {
	names := make([]string, len(p.layers))
	for j, l := range p.layers {
		names[j] = p.params[l].Name()
	}
	return names
}

// Gammas returns the factors of the last refresh, per projected layer.
func (p *Projector) Gammas() []float64 {
	return append([]float64(nil), p.gammas...)
}

// Weights returns the current update weight of every trainable parameter.
func (p *Projector) Weights() []float64 {
	return append([]float64(nil), p.weights...)
}

// Refreshes returns the number of committed refreshes.
func (p *Projector) Refreshes() int {
	return p.refreshes
}

// Project returns a copy of d carrying the current per-layer weights.
// Before the first refresh, and for layers outside the projected set,
// the weight is 1.
func (p *Projector) Project(d zo.Direction) zo.Direction {
	out := d.Clone()
	copy(out.Weights, p.weights)
	return out
}

// Commit rescales the drift of every projected layer to gammas and
// updates the projection weights. Commit is deterministic in the current
// parameter values, the anchors and gammas, which lets a recorded
// trajectory be replayed exactly.
func (p *Projector) Commit(gammas []float64) error {
	if len(gammas) != len(p.layers) {
		return fmt.Errorf("%w: %d factors for %d projected layers",
			tensor.ErrShapeMismatch, len(gammas), len(p.layers))
	}
	ws := p.newWorkspace()
	defer ws.release()
	return p.commit(ws, gammas)
}

// commit writes the projected parameters for gammas and derives the
// update weights from the ratio of the new to the old drift norm.
func (p *Projector) commit(ws *workspace, gammas []float64) error {
	if err := p.place(ws, gammas); err != nil {
		p.restore(ws)
		return err
	}
	lo, hi := 1-p.cfg.GammaBound, 1+p.cfg.GammaBound
	for j, l := range p.layers {
		p.gammas[j] = gammas[j]
		if ws.drift[j] == nil {
			p.weights[l] = 1
			continue
		}
		data := p.params[l].Tensor().Data()
		anchor := p.anchors[j].Data()
		var sq float64
		for i, v := range data {
			d := v - anchor[i]
			sq += d * d
		}
		p.weights[l] = clamp(math.Sqrt(sq)/ws.l2[j], lo, hi)
	}
	p.refreshes++
	return nil
}

// place writes anchor + drift * gamma / norm into the projected layers.
func (p *Projector) place(ws *workspace, gammas []float64) error {
	for _, j := range ws.active {
		param := p.params[p.layers[j]]
		data := param.Tensor().Data()
		anchor := p.anchors[j].Data()
		drift := ws.drift[j]
		rows := ws.rows[j]
		width := len(drift) / len(rows)
		for i := range data {
			var s float64
			if n := rows[i/width]; n > 0 {
				s = gammas[j] / n
			}
			v := tensor.Snap(anchor[i] + drift[i]*s)
			if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > tensor.MaxMagnitude {
				err := tensor.ErrLatticeOverflow
				if math.IsNaN(v) || math.IsInf(v, 0) {
					err = tensor.ErrNonFinite
				}
				return &tensor.ValueError{Tensor: param.Name(), Index: i, Value: anchor[i] + drift[i]*s, Err: err}
			}
			data[i] = v
		}
	}
	return nil
}

// restore puts back the values the workspace was taken from. Anchor and
// drift are lattice values, so the sum is exact.
func (p *Projector) restore(ws *workspace) {
	for _, j := range ws.active {
		data := p.params[p.layers[j]].Tensor().Data()
		anchor := p.anchors[j].Data()
		for i, d := range ws.drift[j] {
			data[i] = anchor[i] + d
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
