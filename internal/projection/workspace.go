package projection

import (
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/dizo/internal/tensor"
)

// workspace holds every buffer of one refresh cycle. It is created at the
// start of a cycle and released before the cycle returns, so nothing
// proportional to the parameter count outlives a refresh.
type workspace struct {
	active []int       // Projected layers with non-zero drift
	drift  [][]float64 // p - anchor per projected layer; nil when the drift is zero
	rows   [][]float64 // Drift norm per row under the norm mode
	l2     []float64   // L2 norm of the drift
	ref    []float64   // Reference drift t per projected layer
	grads  []*tensor.Tensor
}

func (p *Projector) newWorkspace() *workspace {
	n := len(p.layers)
	ws := &workspace{
		drift: make([][]float64, n),
		rows:  make([][]float64, n),
		l2:    make([]float64, n),
		ref:   make([]float64, n),
	}
	for j, l := range p.layers {
		t := p.params[l].Tensor()
		anchor := p.anchors[j].Data()
		drift := make([]float64, t.NumElements())
		floats.SubTo(drift, t.Data(), anchor)

		l2 := floats.Norm(drift, 2)
		if l2 == 0 {
			continue
		}
		ws.drift[j] = drift
		ws.l2[j] = l2
		ws.active = append(ws.active, j)

		if p.cfg.NormMode == NormMARS {
			nrows, width := t.Shape().Rows()
			rows := make([]float64, nrows)
			for r := range rows {
				rows[r] = floats.Norm(drift[r*width:(r+1)*width], 1)
			}
			ws.rows[j] = rows
			ws.ref[j] = floats.Sum(rows) / float64(nrows)
			continue
		}
		ws.rows[j] = []float64{l2}
		ws.ref[j] = l2
	}
	return ws
}

// allocGrads allocates gradient buffers for every trainable parameter.
func (ws *workspace) allocGrads(p *Projector) {
	ws.grads = make([]*tensor.Tensor, len(p.params))
	for i, param := range p.params {
		ws.grads[i] = tensor.Zeros(param.Tensor().Shape())
	}
}

func (ws *workspace) release() {
	*ws = workspace{}
}
