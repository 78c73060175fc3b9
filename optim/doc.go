// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the update rules of zeroth-order training.
//
// # Overview
//
// This package contains:
//   - SGD: applies a seed-encoded update direction with momentum and
//     weight decay, regenerating the perturbations instead of storing a
//     gradient
//   - Adam: over flat float64 slices, used for first-order projection
//     learning
//   - Schedules: constant, linear and cosine learning-rate schedules with
//     warmup
//
// # Basic Usage
//
//	import "github.com/born-ml/dizo/optim"
//
//	sched, err := optim.NewSchedule(optim.ScheduleConfig{
//	    Kind:   optim.ScheduleCosine,
//	    LR:     1e-3,
//	    Steps:  1000,
//	    Warmup: 50,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
package optim
