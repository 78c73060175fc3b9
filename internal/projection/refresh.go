package projection

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/optim"
	"github.com/born-ml/dizo/internal/perturb"
)

// Result describes one committed refresh.
type Result struct {
	Layers  []string  // Projected parameter names
	Drift   []float64 // Reference drift t per projected layer before the refresh
	Gammas  []float64 // Committed factors per projected layer
	Weights []float64 // Update weights per trainable parameter after the commit
	Losses  []float64 // Loss observed per iteration
	Skipped int       // Iterations dropped because a loss was not finite
}

// Refresh runs one projection-learning cycle over Iterations batches from
// src and commits the learned factors into the parameters.
//
// While a cycle runs, the projected layers temporarily hold candidate
// values. If the cycle fails the parameters are restored bit for bit.
// seed drives the zo factor perturbations.
func (p *Projector) Refresh(ctx context.Context, eval nn.Evaluator, src nn.Source, seed uint64) (*Result, error) {
	if !p.Enabled() {
		return &Result{Weights: p.Weights()}, nil
	}

	ws := p.newWorkspace()
	defer ws.release()

	res := &Result{
		Layers: p.Layers(),
		Drift:  append([]float64(nil), ws.ref...),
	}
	gammas := append([]float64(nil), ws.ref...)

	var err error
	switch p.cfg.Mode {
	case ModeZO:
		err = p.learnZO(ctx, ws, eval, src, seed, gammas, res)
	case ModeFO:
		err = p.learnFO(ctx, ws, eval, src, gammas, res)
	}
	if err != nil {
		return nil, err
	}

	if err := p.commit(ws, gammas); err != nil {
		return nil, errors.WithStack(err)
	}
	res.Gammas = p.Gammas()
	res.Weights = p.Weights()

	p.log.Debug().
		Str("mode", string(p.cfg.Mode)).
		Int("refresh", p.refreshes).
		Int("skipped", res.Skipped).
		Floats64("gammas", res.Gammas).
		Msg("projection refreshed")
	return res, nil
}

// evaluate places candidate factors, evaluates the loss and restores the
// parameters before returning, even if the evaluator panics.
func (p *Projector) evaluate(ws *workspace, gammas []float64, f func() (float64, error)) (float64, error) {
	defer p.restore(ws)
	if err := p.place(ws, gammas); err != nil {
		return 0, errors.WithStack(err)
	}
	return f()
}

// learnZO estimates the gradient of the loss with respect to the factors
// by simultaneous perturbation:
//
//	z_l = t_l * N(0, 1)
//	g   = (L(γ + μz) - L(γ - μz)) / 2μ
//	γ   = clip(γ - lr * g * z, (1-b)t, (1+b)t)
func (p *Projector) learnZO(
	ctx context.Context,
	ws *workspace,
	eval nn.Evaluator,
	src nn.Source,
	seed uint64,
	gammas []float64,
	res *Result,
) error {
	mu := p.cfg.PerturbScale
	z := make([]float64, len(gammas))
	plus := make([]float64, len(gammas))
	minus := make([]float64, len(gammas))

	for it := 0; it < p.cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := src.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to draw projection batch")
		}

		key := perturb.DeriveSeed(seed, it)
		for _, j := range ws.active {
			z[j] = ws.ref[j] * perturb.Normal(perturb.LayerKey(key, j), 0)
			plus[j] = gammas[j] + mu*z[j]
			minus[j] = gammas[j] - mu*z[j]
		}

		lossPlus, err := p.evaluate(ws, plus, func() (float64, error) { return eval.Loss(ctx, batch) })
		if err != nil {
			return errors.Wrap(err, "failed to evaluate projection loss")
		}
		lossMinus, err := p.evaluate(ws, minus, func() (float64, error) { return eval.Loss(ctx, batch) })
		if err != nil {
			return errors.Wrap(err, "failed to evaluate projection loss")
		}

		g := (lossPlus - lossMinus) / (2 * mu)
		if !finite(g) {
			p.log.Warn().Int("iteration", it).Msg("non-finite projection loss, skipping iteration")
			res.Skipped++
			continue
		}
		res.Losses = append(res.Losses, (lossPlus+lossMinus)/2)
		for _, j := range ws.active {
			gammas[j] = p.bound(gammas[j]-p.cfg.LR*g*z[j], ws.ref[j])
		}
	}
	return nil
}

// learnFO descends the exact gradient of the loss plus an L1 penalty
// with Adam. For parameter i in row r of layer l,
//
//	∂p_i/∂γ_l = d_i / n_r
//
// where d is the drift and n_r the row norm, so
// dL/dγ_l = Σ_i ∂L/∂p_i · d_i / n_r + λ sign(γ_l).
func (p *Projector) learnFO(
	ctx context.Context,
	ws *workspace,
	eval nn.Evaluator,
	src nn.Source,
	gammas []float64,
	res *Result,
) error {
	ge, ok := eval.(nn.GradEvaluator)
	if !ok {
		return errors.WithStack(ErrGradientUnavailable)
	}
	ws.allocGrads(p)

	active := make([]float64, len(ws.active))
	grads := make([]float64, len(ws.active))
	for k, j := range ws.active {
		active[k] = gammas[j]
	}
	adam := optim.NewAdam(len(active), optim.AdamConfig{LR: p.cfg.LR})

	for it := 0; it < p.cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := src.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to draw projection batch")
		}

		loss, err := p.evaluate(ws, gammas, func() (float64, error) {
			return ge.LossGrad(ctx, batch, ws.grads)
		})
		if err != nil {
			return errors.Wrap(err, "failed to evaluate projection gradient")
		}
		if !finite(loss) {
			p.log.Warn().Int("iteration", it).Msg("non-finite projection loss, skipping iteration")
			res.Skipped++
			continue
		}
		res.Losses = append(res.Losses, loss)

		for k, j := range ws.active {
			grads[k] = p.gammaGrad(ws, j) + p.cfg.L1Penalty*sign(gammas[j])
		}
		if err := adam.Step(active, grads); err != nil {
			return errors.WithStack(err)
		}
		for k, j := range ws.active {
			active[k] = p.bound(active[k], ws.ref[j])
			gammas[j] = active[k]
		}
	}
	return nil
}

// gammaGrad returns Σ_i ∂L/∂p_i · d_i / n_r for projected layer j.
func (p *Projector) gammaGrad(ws *workspace, j int) float64 {
	g := ws.grads[p.layers[j]].Data()
	drift := ws.drift[j]
	rows := ws.rows[j]
	width := len(drift) / len(rows)
	var acc float64
	for r, n := range rows {
		if n == 0 {
			continue
		}
		var dot float64
		for i := r * width; i < (r+1)*width; i++ {
			dot += g[i] * drift[i]
		}
		acc += dot / n
	}
	return acc
}

// bound clips gamma to [(1-b)t, (1+b)t].
func (p *Projector) bound(gamma, t float64) float64 {
	return clamp(gamma, (1-p.cfg.GammaBound)*t, (1+p.cfg.GammaBound)*t)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
