// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package trainer runs divergence-driven zeroth-order fine-tuning.
//
// # Overview
//
// Every step estimates the gradient from loss differences along seeded
// random directions, never storing a gradient or a perturbation. A
// projection learns one scaling factor per layer for the drift away from
// the pre-trained values, and a divergence monitor decides when to
// refresh it. The update replays the seeds.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/dizo/nn"
//	    "github.com/born-ml/dizo/trainer"
//	)
//
//	func main() {
//	    model, _ := nn.NewQuadratic([]float64{0, 0}, []float64{1, 2})
//	    run, err := trainer.New(model, src, trainer.Config{
//	        Steps:      1000,
//	        LR:         1e-2,
//	        Projection: trainer.ProjectionConfig{Mode: trainer.ProjectionZO, LR: 1e-2},
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := run.Train(ctx); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Reproducibility
//
// A StepRecord holds everything an update needs. Replay rebuilds the
// final parameters from the initial ones and the records, bit for bit.
package trainer
