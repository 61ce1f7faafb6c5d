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

// Package modeling holds the detection meta-architectures and the pieces they are built from.
package modeling

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Backend is the CPU backend wrapped with a gradient tape.
type Backend = *autodiff.Backend[*cpu.Backend]

// Tensor is the float tensor type every model in this package works on.
type Tensor = tensor.Tensor[float32, Backend]

func NewBackend() Backend {
	return autodiff.New(cpu.New())
}

// NamedParameter is a parameter together with its dotted path in the module tree.
// A parameter shared between modules is reported once per path.
type NamedParameter[B tensor.Backend] struct {
	Name  string
	Param *nn.Parameter[B]
}

// Trainable reports whether gradients are tracked for the parameter.
func (p NamedParameter[B]) Trainable() bool {
	return p.Param.Tensor().RequiresGrad()
}

// Raw is the identity of the parameter: gradients are keyed by it.
func (p NamedParameter[B]) Raw() *tensor.RawTensor {
	return p.Param.Tensor().Raw()
}

func constant(data []float32, shape tensor.Shape, b Backend) *Tensor {
	t, err := tensor.FromSlice[float32](data, shape, b)
	if err != nil {
		panic(err)
	}

	return t
}

func scalar(v float32, b Backend) *Tensor {
	return tensor.Full[float32](tensor.Shape{1, 1}, v, b)
}

// sumAll reduces t to a [1, 1] tensor using only taped ops.
func sumAll(t *Tensor, b Backend) *Tensor {
	n := t.NumElements()
	return t.Reshape(1, n).MatMul(tensor.Ones[float32](tensor.Shape{n, 1}, b))
}
