// Package metrics exports training progress as Prometheus metrics.
package metrics

import (
	"context"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/born-ml/dizo/internal/trainer"
)

const namespace = "dizo"

// Collector is a trainer.Sink that updates Prometheus metrics from step
// records. Every metric carries a "run" label, so one registry can serve
// the runs of a sweep.
type Collector struct {
	registry *prometheus.Registry

	steps      *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	loss       *prometheus.GaugeVec
	lr         *prometheus.GaugeVec
	updateNorm *prometheus.GaugeVec
	divergence *prometheus.GaugeVec
	smoothed   *prometheus.GaugeVec
	gamma      *prometheus.GaugeVec
	stepTime   *prometheus.HistogramVec
}

// NewCollector registers the training metrics with reg. A nil reg creates
// a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	run := []string{"run"}
	return &Collector{
		registry: reg,
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Completed training steps.",
		}, run),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_directions_total",
			Help:      "Perturbation directions dropped because a loss was not finite.",
		}, run),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_refreshes_total",
			Help:      "Projection refresh cycles.",
		}, run),
		loss: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loss",
			Help:      "Mean loss of the last step at +epsilon.",
		}, run),
		lr: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learning_rate",
			Help:      "Learning rate of the last step.",
		}, run),
		updateNorm: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_norm",
			Help:      "L2 norm of the last parameter update.",
		}, run),
		divergence: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "divergence",
			Help:      "Divergence between the raw and projected update of the last step.",
		}, run),
		smoothed: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "divergence_smoothed",
			Help:      "Exponential moving average of the divergence.",
		}, run),
		gamma: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projection_gamma",
			Help:      "Committed projection factor per layer.",
		}, []string{"run", "layer"}),
		stepTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one training step.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, run),
	}
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Sink returns a trainer.Sink reporting under the given run label.
func (c *Collector) Sink(run string) trainer.Sink {
	return trainer.SinkFunc(func(_ context.Context, rec *trainer.StepRecord) error {
		c.observe(run, rec)
		return nil
	})
}

func (c *Collector) observe(run string, rec *trainer.StepRecord) {
	c.steps.WithLabelValues(run).Inc()
	c.skipped.WithLabelValues(run).Add(float64(rec.Skipped))
	if !math.IsNaN(rec.Loss) {
		c.loss.WithLabelValues(run).Set(rec.Loss)
	}
	c.lr.WithLabelValues(run).Set(rec.LR)
	c.updateNorm.WithLabelValues(run).Set(rec.UpdateNorm)
	c.divergence.WithLabelValues(run).Set(rec.Divergence)
	c.smoothed.WithLabelValues(run).Set(rec.Smoothed)
	c.stepTime.WithLabelValues(run).Observe(rec.Duration.Seconds())

	if res := rec.Refresh; res != nil {
		c.refreshes.WithLabelValues(run).Inc()
		for i, name := range res.Layers {
			c.gamma.WithLabelValues(run, name).Set(res.Gammas[i])
		}
	}
}
