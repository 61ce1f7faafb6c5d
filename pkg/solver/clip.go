/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package solver

import (
	"math"

	"github.com/born-ml/born/tensor"
)

// ClipMode selects how gradients are clipped before an optimizer step. Exactly one mode
// is active for an optimizer.
type ClipMode int

const (
	ClipNone ClipMode = iota
	// ClipValue clamps every gradient element of each parameter to [-v, v].
	ClipValue
	// ClipNorm rescales each parameter's gradient to a norm of at most v.
	ClipNorm
	// ClipFullModel rescales all gradients together to a total norm of at most v.
	ClipFullModel
)

func (m ClipMode) String() string {
	switch m {
	case ClipValue:
		return "value"
	case ClipNorm:
		return "norm"
	case ClipFullModel:
		return "full_model"
	default:
		return "none"
	}
}

// SelectClipMode picks the clipping mode for cfg. Full-model clipping needs a positive
// value; when the type is full_model but clipping cannot apply, no clipping is done.
func SelectClipMode(cfg ClipConfig) ClipMode {
	if !cfg.Enabled {
		return ClipNone
	}

	switch cfg.ClipType {
	case ClipTypeFullModel:
		if cfg.ClipValue > 0 {
			return ClipFullModel
		}
		return ClipNone
	case ClipTypeValue:
		return ClipValue
	case ClipTypeNorm:
		return ClipNorm
	default:
		return ClipNone
	}
}

// clippedOptimizer runs a clipping pre-step before the wrapped optimizer's step.
type clippedOptimizer struct {
	Optimizer
	mode     ClipMode
	value    float64
	normType float64
}

// WithClipping composes the clipping pre-step for mode around opt. ClipNone returns opt
// unchanged.
func WithClipping(opt Optimizer, mode ClipMode, value, normType float64) Optimizer {
	if mode == ClipNone {
		return opt
	}

	return &clippedOptimizer{Optimizer: opt, mode: mode, value: value, normType: normType}
}

// ClipModeOf reports the clipping mode composed around opt.
func ClipModeOf(opt Optimizer) ClipMode {
	if c, ok := opt.(*clippedOptimizer); ok {
		return c.mode
	}

	return ClipNone
}

func (o *clippedOptimizer) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	switch o.mode {
	case ClipValue:
		for _, p := range o.params() {
			if g := grads[p]; g != nil {
				clipValue(g.AsFloat32(), float32(o.value))
			}
		}
	case ClipNorm:
		for _, p := range o.params() {
			if g := grads[p]; g != nil {
				clipNorm([][]float32{g.AsFloat32()}, o.value, o.normType)
			}
		}
	case ClipFullModel:
		var all [][]float32
		for _, p := range o.params() {
			if g := grads[p]; g != nil {
				all = append(all, g.AsFloat32())
			}
		}
		clipNorm(all, o.value, 2)
	}

	o.Optimizer.Step(grads)
}

func (o *clippedOptimizer) params() []*tensor.RawTensor {
	var out []*tensor.RawTensor
	for _, g := range o.ParamGroups() {
		out = append(out, g.Params...)
	}

	return out
}

func clipValue(g []float32, v float32) {
	for i, x := range g {
		g[i] = max(-v, min(v, x))
	}
}

// clipNorm scales grads in place so that their joint p-norm is at most maxNorm and
// returns the norm before clipping. An infinite normType uses the max norm.
func clipNorm(grads [][]float32, maxNorm, normType float64) float64 {
	var total float64
	if math.IsInf(normType, 1) {
		for _, g := range grads {
			for _, x := range g {
				total = math.Max(total, math.Abs(float64(x)))
			}
		}
	} else {
		for _, g := range grads {
			for _, x := range g {
				total += math.Pow(math.Abs(float64(x)), normType)
			}
		}
		total = math.Pow(total, 1/normType)
	}

	coef := maxNorm / (total + 1e-6)
	if coef >= 1 {
		return total
	}

	for _, g := range grads {
		for i := range g {
			g[i] *= float32(coef)
		}
	}

	return total
}
