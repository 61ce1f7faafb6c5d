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
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uavdetect/detrtrain/pkg/data"
)

func TestSetCriterionSingle(t *testing.T) {
	b := NewBackend()
	cfg := DefaultDetrConfig()
	cfg.NumClasses = 1
	cfg.NumObjectQueries = 2
	c := newSetCriterion(cfg)

	out := headOutput{
		logits: constant([]float32{10, -10, -10, 10}, tensor.Shape{2, 2}, b),
		boxes:  constant([]float32{0.5, 0.5, 0.25, 0.25, 0.1, 0.1, 0.1, 0.1}, tensor.Shape{2, 4}, b),
	}

	tests := []struct {
		name    string
		targets []target
		expect  func(t *testing.T, ce, bbox *Tensor, giou float64)
	}{
		{
			name:    "perfect prediction",
			targets: []target{{classes: []int{0}, boxes: [][4]float64{{0.5, 0.5, 0.25, 0.25}}}},
			expect: func(t *testing.T, ce, bbox *Tensor, giou float64) {
				assert.InDelta(t, 0, ce.Data()[0], 1e-3)
				require.NotNil(t, bbox)
				assert.InDelta(t, 4e-3, bbox.Data()[0], 1e-4)
				assert.InDelta(t, 0, giou, 1e-9)
			},
		},
		{
			name:    "no targets",
			targets: []target{{}},
			expect: func(t *testing.T, ce, bbox *Tensor, giou float64) {
				assert.Nil(t, bbox)
				assert.Greater(t, ce.Data()[0], float32(1))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ce, bbox, giou := c.single(out, tc.targets, 1, b)
			tc.expect(t, ce, bbox, giou)
		})
	}
}

func TestNewTargets(t *testing.T) {
	targets, total := newTargets([]data.Sample{
		{Height: 10, Width: 20, Instances: []data.Instance{{Box: [4]float64{0, 0, 10, 10}, Class: 1}}},
		{Height: 10, Width: 10},
	})
	assert.Equal(t, 1, total)
	require.Len(t, targets, 2)
	assert.Equal(t, []int{1}, targets[0].classes)
	assert.InDeltaSlice(t, []float64{0.25, 0.5, 0.5, 1}, targets[0].boxes[0][:], 1e-12)
	assert.Empty(t, targets[1].classes)
}

func TestCriterionRejectsUnknownClass(t *testing.T) {
	cfg := DefaultDetrConfig()
	cfg.NumClasses = 1
	_, _, err := newSetCriterion(cfg).losses(nil, []data.Sample{{Height: 1, Width: 1, Instances: []data.Instance{{Box: [4]float64{0, 0, 1, 1}, Class: 3}}}}, NewBackend())
	assert.ErrorContains(t, err, "out of range")
}
