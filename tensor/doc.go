// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float64 tensors that hold model
// parameters.
//
// # Overview
//
// Trainable values live on a fixed-point lattice: every value is an
// integer multiple of Quantum with magnitude at most MaxMagnitude. Adding
// and then subtracting the same lattice perturbation restores the original
// bits, which is what lets zeroth-order training perturb parameters in
// place without drift.
//
// # Basic Usage
//
//	import "github.com/born-ml/dizo/tensor"
//
//	w := tensor.Zeros(tensor.Shape{4, 8})
//	if err := w.SnapInPlace("w"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Checkpoints
//
// WriteCheckpoint and ReadCheckpoint store named tensors in a
// zstd-compressed, checksummed format. Fingerprint digests exact bit
// patterns and is used to verify replayed trajectories.
package tensor
