package main

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// window keeps the last n finite values.
type window struct {
	vals []float64
	n    int
}

func newWindow(n int) *window {
	return &window{n: n}
}

func (w *window) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	w.vals = append(w.vals, v)
	if len(w.vals) > w.n {
		w.vals = w.vals[len(w.vals)-w.n:]
	}
}

// mean returns the mean of the window, or NaN when it is empty.
func (w *window) mean() float64 {
	if len(w.vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(w.vals, nil)
}
