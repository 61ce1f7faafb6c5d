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

package modeling

import (
	"fmt"

	"github.com/born-ml/born/nn"
)

// backbone is a plain convolution trunk. Each stage is a 3x3 convolution followed by
// ReLU and a 2x2 max pool, so the output stride is 2^len(stages).
type backbone struct {
	stages   []*nn.Conv2D[Backend]
	relu     *nn.ReLU[Backend]
	pool     *nn.MaxPool2D[Backend]
	freezeAt int
}

func newBackbone(cfg BackboneConfig, b Backend) *backbone {
	m := &backbone{
		relu:     nn.NewReLU[Backend](),
		pool:     nn.NewMaxPool2D(2, 2, b),
		freezeAt: cfg.FreezeAt,
	}

	in := 3
	for _, out := range cfg.Channels {
		m.stages = append(m.stages, nn.NewConv2D(in, out, 3, 3, 1, 1, true, b))
		in = out
	}

	return m
}

func (m *backbone) forward(x *Tensor) *Tensor {
	for _, conv := range m.stages {
		x = m.pool.Forward(m.relu.Forward(conv.Forward(x)))
	}

	return x
}

func (m *backbone) stride() int {
	return 1 << len(m.stages)
}

func (m *backbone) outChannels() int {
	return m.stages[len(m.stages)-1].OutChannels()
}

// outputSize is the feature map size for an input of h by w.
func (m *backbone) outputSize(h, w int) (int, int) {
	for range m.stages {
		h, w = h/2, w/2
	}

	return h, w
}

func (m *backbone) namedParameters(l *paramList) {
	for i, conv := range m.stages {
		l.conv(fmt.Sprintf("backbone.0.body.conv%d", i+1), conv)
	}
}

// trainable marks every stage past freezeAt for gradient tracking.
func (m *backbone) trainable() {
	for i, conv := range m.stages {
		if i < m.freezeAt {
			continue
		}

		for _, p := range conv.Parameters() {
			p.Tensor().RequireGrad()
		}
	}
}
