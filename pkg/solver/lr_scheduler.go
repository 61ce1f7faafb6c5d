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
	"sort"
)

// WarmupMultiStepLR decays group learning rates by Gamma at each milestone in Steps,
// after an initial warmup over WarmupIters iterations.
type WarmupMultiStepLR struct {
	opt    Optimizer
	cfg    Config
	lastLR []float64
}

func NewWarmupMultiStepLR(opt Optimizer, cfg Config) *WarmupMultiStepLR {
	s := &WarmupMultiStepLR{opt: opt, cfg: cfg}
	s.Step(0)
	return s
}

// Factor returns the multiplier applied to the initial LR at iteration iter.
func (s *WarmupMultiStepLR) Factor(iter int) float64 {
	return warmupFactor(s.cfg, iter) * math.Pow(s.cfg.Gamma, float64(sort.SearchInts(s.cfg.Steps, iter+1)))
}

// Step sets every group LR for iteration iter.
func (s *WarmupMultiStepLR) Step(iter int) {
	f := s.Factor(iter)
	groups := s.opt.ParamGroups()
	s.lastLR = s.lastLR[:0]
	for _, g := range groups {
		g.LR = g.InitialLR * f
		s.lastLR = append(s.lastLR, g.LR)
	}
}

// LastLR returns the group LRs set by the last Step.
func (s *WarmupMultiStepLR) LastLR() []float64 {
	return s.lastLR
}

func warmupFactor(cfg Config, iter int) float64 {
	if iter >= cfg.WarmupIters {
		return 1
	}

	switch cfg.WarmupMethod {
	case WarmupConstant:
		return cfg.WarmupFactor
	default:
		alpha := float64(iter) / float64(cfg.WarmupIters)
		return cfg.WarmupFactor*(1-alpha) + alpha
	}
}
