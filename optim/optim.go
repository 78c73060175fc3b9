// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/born-ml/dizo/internal/optim"
)

// Applier applies an update direction to parameters.
type Applier = optim.Applier

// SGD (Stochastic Gradient Descent)

// SGD applies seed-encoded update directions.
type SGD = optim.SGD

// SGDConfig contains configuration for SGD.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD update rule.
//
// Example:
//
//	sgd := optim.NewSGD(optim.SGDConfig{
//	    Momentum:    0.9,
//	    WeightDecay: 1e-4,
//	})
func NewSGD(config SGDConfig) *SGD {
	return optim.NewSGD(config)
}

// Adam (Adaptive Moment Estimation)

// Adam is the Adam optimizer over a flat slice of values.
type Adam = optim.Adam

// AdamConfig contains configuration for Adam.
type AdamConfig = optim.AdamConfig

// NewAdam creates an Adam optimizer for n values with bias correction.
func NewAdam(n int, config AdamConfig) *Adam {
	return optim.NewAdam(n, config)
}

// Learning-rate schedules

// Schedule maps a step to a learning rate.
type Schedule = optim.Schedule

// ScheduleConfig configures a schedule.
type ScheduleConfig = optim.ScheduleConfig

// Schedule kinds.
const (
	ScheduleConstant = optim.ScheduleConstant
	ScheduleLinear   = optim.ScheduleLinear
	ScheduleCosine   = optim.ScheduleCosine
)

// NewSchedule creates a learning-rate schedule.
func NewSchedule(cfg ScheduleConfig) (Schedule, error) {
	return optim.NewSchedule(cfg)
}
