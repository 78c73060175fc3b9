// Package divergence tracks how far the projection bends the
// zeroth-order update and decides when the projection is refreshed.
package divergence

import (
	"fmt"
	"math"
)

// Config configures a Monitor.
type Config struct {
	Strategy  Strategy // Divergence definition (default: Cosine)
	Cycle     int      // Refresh every Cycle steps (default: 50)
	Smoothing float64  // EMA weight of the newest value in (0, 1] (default: 0.1)
	Threshold float64  // Refresh early when the smoothed value exceeds it; 0 disables
	MinGap    int      // Steps required between threshold refreshes (default: 1)
}

// Monitor maintains the smoothed divergence statistic.
//
// A Monitor never touches parameters; it only reads norms handed to it by
// the step loop.
type Monitor struct {
	strategy  Strategy
	cycle     int
	alpha     float64
	threshold float64
	minGap    int

	value       float64
	last        float64
	updates     int
	lastRefresh int
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Strategy == nil {
		cfg.Strategy = Cosine{}
	}
	if cfg.Cycle == 0 {
		cfg.Cycle = 50
	}
	if cfg.Smoothing == 0 {
		cfg.Smoothing = 0.1
	}
	if cfg.MinGap == 0 {
		cfg.MinGap = 1
	}
	switch {
	case cfg.Cycle < 0:
		return nil, fmt.Errorf("refresh cycle must be positive, got %d", cfg.Cycle)
	case cfg.Smoothing < 0 || cfg.Smoothing > 1:
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %g", cfg.Smoothing)
	case cfg.Threshold < 0 || math.IsNaN(cfg.Threshold):
		return nil, fmt.Errorf("threshold must be non-negative, got %g", cfg.Threshold)
	case cfg.MinGap < 0:
		return nil, fmt.Errorf("minimum refresh gap must be positive, got %d", cfg.MinGap)
	}
	return &Monitor{
		strategy:    cfg.Strategy,
		cycle:       cfg.Cycle,
		alpha:       cfg.Smoothing,
		threshold:   cfg.Threshold,
		minGap:      cfg.MinGap,
		lastRefresh: -1,
	}, nil
}

// Update records one step and returns the raw divergence of the step.
// raw and projected are per-layer norms of the two directions.
func (m *Monitor) Update(raw, projected []float64) float64 {
	d := m.strategy.Divergence(raw, projected)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		d = 0
	}
	m.last = d
	if m.updates == 0 {
		m.value = d
	} else {
		m.value = m.alpha*d + (1-m.alpha)*m.value
	}
	m.updates++
	return d
}

// ShouldRefresh reports whether the projection must be refreshed after
// step (0-based). It is true on every cycle boundary, (step+1) % Cycle == 0,
// and, with a threshold configured, whenever the smoothed divergence
// exceeds it and MinGap steps have passed since the last refresh. The gap
// does not apply before the first refresh.
func (m *Monitor) ShouldRefresh(step int) bool {
	if (step+1)%m.cycle == 0 {
		return true
	}
	if m.threshold > 0 && m.updates > 0 && m.value > m.threshold {
		return m.lastRefresh < 0 || step-m.lastRefresh >= m.minGap
	}
	return false
}

// MarkRefreshed records that the projection was refreshed after step.
func (m *Monitor) MarkRefreshed(step int) {
	m.lastRefresh = step
}

// Value returns the smoothed divergence.
func (m *Monitor) Value() float64 {
	return m.value
}

// Last returns the divergence of the most recent step.
func (m *Monitor) Last() float64 {
	return m.last
}

// LastRefresh returns the step of the last refresh, or -1.
func (m *Monitor) LastRefresh() int {
	return m.lastRefresh
}

// Strategy returns the divergence strategy.
func (m *Monitor) Strategy() Strategy {
	return m.strategy
}
