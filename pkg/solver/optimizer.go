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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/modeling"
)

// ErrUnsupportedOptimizer is returned for an unknown SOLVER.OPTIMIZER.
var ErrUnsupportedOptimizer = errors.New("unimplemented optimizer")

// OptimizerKind selects the update rule.
type OptimizerKind int

const (
	OptimizerSGD OptimizerKind = iota + 1
	OptimizerAdamW
)

func (k OptimizerKind) String() string {
	switch k {
	case OptimizerSGD:
		return "SGD"
	case OptimizerAdamW:
		return "ADAMW"
	default:
		return "unknown"
	}
}

// ParseOptimizerKind accepts exactly "SGD" and "ADAMW".
func ParseOptimizerKind(s string) (OptimizerKind, error) {
	switch s {
	case "SGD":
		return OptimizerSGD, nil
	case "ADAMW":
		return OptimizerAdamW, nil
	default:
		return 0, fmt.Errorf("%w: no optimizer type %s", ErrUnsupportedOptimizer, s)
	}
}

// Optimizer updates parameter groups in place from the gradients of a backward pass.
type Optimizer interface {
	optim.Optimizer

	Kind() OptimizerKind
	ParamGroups() []*ParamGroup

	// StateDict exports the per-parameter buffers keyed by "<group>.<buffer>".
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// Constructor builds an optimizer of kind over groups.
type Constructor func(kind OptimizerKind, groups []*ParamGroup, cfg Config) (Optimizer, error)

// New is the default Constructor.
func New(kind OptimizerKind, groups []*ParamGroup, cfg Config) (Optimizer, error) {
	switch kind {
	case OptimizerSGD:
		return NewSGD(groups, cfg.Momentum), nil
	case OptimizerAdamW:
		return NewAdamW(groups), nil
	default:
		return nil, fmt.Errorf("%w: no optimizer type %s", ErrUnsupportedOptimizer, kind)
	}
}

// Build creates the optimizer for cfg. The optimizer kind is checked before any
// parameter group is built, and the clipping mode is applied around the result.
func Build[B tensor.Backend](cfg Config, params []modeling.NamedParameter[B], ctor Constructor) (Optimizer, error) {
	kind, err := ParseOptimizerKind(cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	if ctor == nil {
		ctor = New
	}

	opt, err := ctor(kind, BuildParamGroups(params, cfg), cfg)
	if err != nil {
		return nil, err
	}

	clip := cfg.ClipGradients
	return WithClipping(opt, SelectClipMode(clip), clip.ClipValue, clip.NormType), nil
}

// groupOptimizer holds what SGD and AdamW share.
type groupOptimizer struct {
	groups []*ParamGroup
}

func (o *groupOptimizer) ParamGroups() []*ParamGroup {
	return o.groups
}

// ZeroGrad is a no-op: gradients are passed to Step and not kept on the parameters.
func (o *groupOptimizer) ZeroGrad() {}

// GetLR returns the largest current group LR.
func (o *groupOptimizer) GetLR() float32 {
	var lr float64
	for _, g := range o.groups {
		lr = math.Max(lr, g.LR)
	}

	return float32(lr)
}

// each calls fn for every parameter that has a gradient of matching size. A gradient
// whose size differs from its parameter is logged and skipped.
func (o *groupOptimizer) each(grads map[*tensor.RawTensor]*tensor.RawTensor, fn func(gi, pi int, g *ParamGroup, param, grad []float32)) {
	for gi, g := range o.groups {
		for pi, p := range g.Params {
			grad, ok := grads[p]
			if !ok || grad == nil {
				continue
			}

			if grad.NumElements() != p.NumElements() {
				logger.TrainLogger.Warnf("skip update of %s: gradient has %d elements, parameter has %d",
					g.paramName(pi), grad.NumElements(), p.NumElements())
				continue
			}

			fn(gi, pi, g, p.AsFloat32(), grad.AsFloat32())
		}
	}
}

// SGD is stochastic gradient descent with momentum and L2 weight decay.
type SGD struct {
	groupOptimizer
	momentum float64
	buf      map[bufferKey][]float32
}

type bufferKey struct {
	group, param int
	name         string
}

func (k bufferKey) String() string {
	return fmt.Sprintf("%d.%d.%s", k.group, k.param, k.name)
}

func parseBufferKey(s string) (bufferKey, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return bufferKey{}, fmt.Errorf("invalid optimizer state key %q", s)
	}

	g, err := strconv.Atoi(parts[0])
	if err != nil {
		return bufferKey{}, fmt.Errorf("invalid optimizer state key %q", s)
	}

	p, err := strconv.Atoi(parts[1])
	if err != nil {
		return bufferKey{}, fmt.Errorf("invalid optimizer state key %q", s)
	}

	return bufferKey{group: g, param: p, name: parts[2]}, nil
}

func NewSGD(groups []*ParamGroup, momentum float64) *SGD {
	return &SGD{
		groupOptimizer: groupOptimizer{groups: groups},
		momentum:       momentum,
		buf:            map[bufferKey][]float32{},
	}
}

func (o *SGD) Kind() OptimizerKind {
	return OptimizerSGD
}

func (o *SGD) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	o.each(grads, func(gi, pi int, g *ParamGroup, param, grad []float32) {
		lr, wd, mom := float32(g.LR), float32(g.WeightDecay), float32(o.momentum)
		key := bufferKey{group: gi, param: pi, name: "momentum_buffer"}
		buf, hasBuf := o.buf[key]
		if mom != 0 && !hasBuf {
			buf = make([]float32, len(param))
			o.buf[key] = buf
		}

		for i := range param {
			d := grad[i] + wd*param[i]
			if mom != 0 {
				if hasBuf {
					buf[i] = mom*buf[i] + d
				} else {
					buf[i] = d
				}
				d = buf[i]
			}
			param[i] -= lr * d
		}
	})
}

func (o *SGD) StateDict() map[string]*tensor.RawTensor {
	return exportBuffers(o.buf)
}

func (o *SGD) LoadStateDict(state map[string]*tensor.RawTensor) error {
	buf, err := importBuffers(state, o.groups)
	if err != nil {
		return err
	}

	o.buf = buf
	return nil
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	groupOptimizer
	buf map[bufferKey][]float32
}

func NewAdamW(groups []*ParamGroup) *AdamW {
	return &AdamW{
		groupOptimizer: groupOptimizer{groups: groups},
		buf:            map[bufferKey][]float32{},
	}
}

func (o *AdamW) Kind() OptimizerKind {
	return OptimizerAdamW
}

func (o *AdamW) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	o.each(grads, func(gi, pi int, g *ParamGroup, param, grad []float32) {
		m := o.buffer(gi, pi, "exp_avg", len(param))
		v := o.buffer(gi, pi, "exp_avg_sq", len(param))
		step := o.buffer(gi, pi, "step", 1)
		step[0]++

		bc1 := 1 - math.Pow(adamBeta1, float64(step[0]))
		bc2 := 1 - math.Pow(adamBeta2, float64(step[0]))
		decay := float32(1 - g.LR*g.WeightDecay)
		stepSize := float32(g.LR / bc1)
		sqrtBC2 := float32(math.Sqrt(bc2))

		for i := range param {
			param[i] *= decay
			m[i] = adamBeta1*m[i] + (1-adamBeta1)*grad[i]
			v[i] = adamBeta2*v[i] + (1-adamBeta2)*grad[i]*grad[i]
			denom := float32(math.Sqrt(float64(v[i])))/sqrtBC2 + adamEps
			param[i] -= stepSize * m[i] / denom
		}
	})
}

func (o *AdamW) buffer(gi, pi int, name string, n int) []float32 {
	key := bufferKey{group: gi, param: pi, name: name}
	buf, ok := o.buf[key]
	if !ok {
		buf = make([]float32, n)
		o.buf[key] = buf
	}

	return buf
}

func (o *AdamW) StateDict() map[string]*tensor.RawTensor {
	return exportBuffers(o.buf)
}

func (o *AdamW) LoadStateDict(state map[string]*tensor.RawTensor) error {
	buf, err := importBuffers(state, o.groups)
	if err != nil {
		return err
	}

	o.buf = buf
	return nil
}

func exportBuffers(buf map[bufferKey][]float32) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(buf))
	for key, data := range buf {
		raw, err := tensor.NewRaw(tensor.Shape{len(data)}, tensor.Float32, tensor.CPU)
		if err != nil {
			continue
		}

		copy(raw.AsFloat32(), data)
		out[key.String()] = raw
	}

	return out
}

func importBuffers(state map[string]*tensor.RawTensor, groups []*ParamGroup) (map[bufferKey][]float32, error) {
	buf := make(map[bufferKey][]float32, len(state))
	for name, raw := range state {
		key, err := parseBufferKey(name)
		if err != nil {
			return nil, err
		}

		if key.group >= len(groups) || key.param >= len(groups[key.group].Params) {
			return nil, fmt.Errorf("optimizer state %s does not match %d parameter groups", name, len(groups))
		}

		data := append([]float32(nil), raw.AsFloat32()...)
		if key.name != "step" && len(data) != groups[key.group].Params[key.param].NumElements() {
			return nil, fmt.Errorf("optimizer state %s has %d values, parameter has %d", name, len(data), groups[key.group].Params[key.param].NumElements())
		}

		buf[key] = data
	}

	return buf, nil
}
