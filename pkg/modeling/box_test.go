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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxConversions(t *testing.T) {
	b := [4]float64{0.5, 0.5, 0.2, 0.4}
	xyxy := CxcywhToXYXY(b)
	assert.InDeltaSlice(t, []float64{0.4, 0.3, 0.6, 0.7}, xyxy[:], 1e-12)
	back := XYXYToCxcywh(xyxy)
	assert.InDeltaSlice(t, b[:], back[:], 1e-12)
}

func TestGeneralizedIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float64
		iou  float64
		giou float64
	}{
		{
			name: "identical",
			a:    [4]float64{0, 0, 2, 2},
			b:    [4]float64{0, 0, 2, 2},
			iou:  1,
			giou: 1,
		},
		{
			name: "half overlap",
			a:    [4]float64{0, 0, 2, 2},
			b:    [4]float64{1, 0, 3, 2},
			iou:  2.0 / 6.0,
			giou: 2.0 / 6.0,
		},
		{
			name: "disjoint",
			a:    [4]float64{0, 0, 1, 1},
			b:    [4]float64{2, 0, 3, 1},
			iou:  0,
			giou: -1.0 / 3.0,
		},
		{
			name: "degenerate",
			a:    [4]float64{0, 0, 0, 0},
			b:    [4]float64{0, 0, 0, 0},
			iou:  0,
			giou: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.iou, IoU(tc.a, tc.b), 1e-9)
			assert.InDelta(t, tc.giou, GeneralizedIoU(tc.a, tc.b), 1e-9)
		})
	}
}

func TestLinearSumAssignment(t *testing.T) {
	tests := []struct {
		name string
		cost [][]float64
		rows []int
		cols []int
	}{
		{
			name: "square",
			cost: [][]float64{{4, 1, 3}, {2, 0, 5}, {3, 2, 2}},
			rows: []int{0, 1, 2},
			cols: []int{1, 0, 2},
		},
		{
			name: "more columns",
			cost: [][]float64{{5, 1, 9}, {1, 7, 9}},
			rows: []int{0, 1},
			cols: []int{1, 0},
		},
		{
			name: "more rows",
			cost: [][]float64{{5, 9}, {1, 9}, {9, 0}, {3, 3}},
			rows: []int{1, 2},
			cols: []int{0, 1},
		},
		{
			name: "empty",
			cost: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rows, cols := LinearSumAssignment(tc.cost)
			assert.Equal(t, tc.rows, rows)
			assert.Equal(t, tc.cols, cols)
		})
	}
}

func TestHungarianMatcher(t *testing.T) {
	m := HungarianMatcher{CostClass: 1, CostBBox: 5, CostGIoU: 2}
	probs := [][]float64{{0.1, 0.9}, {0.9, 0.1}, {0.5, 0.5}}
	boxes := [][4]float64{{0.2, 0.2, 0.1, 0.1}, {0.7, 0.7, 0.2, 0.2}, {0.5, 0.5, 0.9, 0.9}}

	matches := m.Match(probs, boxes, []int{0}, [][4]float64{{0.7, 0.7, 0.2, 0.2}})
	assert.Equal(t, []match{{query: 1, target: 0}}, matches)
	assert.Empty(t, m.Match(probs, boxes, nil, nil))
}

func TestSinePositionEmbedding(t *testing.T) {
	const dim = 8
	out := sinePositionEmbedding([][2]int{{2, 3}}, 2, 3, dim)
	assert.Len(t, out, 2*3*dim)

	ye := 1 / (2 + positionEps) * 2 * math.Pi
	xe := 3 / (3 + positionEps) * 2 * math.Pi
	base := (1*3 + 2) * dim
	assert.InDelta(t, math.Sin(ye), out[base], 1e-6)
	assert.InDelta(t, math.Cos(ye), out[base+1], 1e-6)
	assert.InDelta(t, math.Sin(xe), out[base+dim/2], 1e-6)
}
