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

package data

import (
	"image"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
)

func TestResizeShortestEdgeOutputShape(t *testing.T) {
	tests := []struct {
		name    string
		resize  ResizeShortestEdge
		h, w    int
		size    int
		expectH int
		expectW int
	}{
		{
			name:    "scale up short side",
			resize:  ResizeShortestEdge{MaxSize: 1333},
			h:       480,
			w:       640,
			size:    800,
			expectH: 800,
			expectW: 1067,
		},
		{
			name:    "long side capped",
			resize:  ResizeShortestEdge{MaxSize: 1333},
			h:       100,
			w:       1000,
			size:    800,
			expectH: 133,
			expectW: 1333,
		},
		{
			name:    "no cap",
			resize:  ResizeShortestEdge{},
			h:       10,
			w:       30,
			size:    20,
			expectH: 20,
			expectW: 60,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, w := tc.resize.OutputShape(tc.h, tc.w, tc.size)
			assert.Equal(t, tc.expectH, h)
			assert.Equal(t, tc.expectW, w)
		})
	}
}

func TestAugmentations(t *testing.T) {
	rng := func() *rand.Rand { return rand.New(rand.NewSource(1)) }
	tests := []struct {
		name   string
		aug    Augmentation
		boxes  [][4]float64
		expect func(t *testing.T, img image.Image, boxes [][4]float64)
	}{
		{
			name:  "resize scales boxes",
			aug:   ResizeShortestEdge{ShortEdge: []int{20}, SampleStyle: SampleStyleChoice},
			boxes: [][4]float64{{2, 2, 4, 4}},
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				assert := assert.New(t)
				assert.Equal(40, img.Bounds().Dx())
				assert.Equal(20, img.Bounds().Dy())
				assert.Equal([][4]float64{{4, 4, 8, 8}}, boxes)
			},
		},
		{
			name:  "resize with zero size is identity",
			aug:   ResizeShortestEdge{ShortEdge: []int{0}, SampleStyle: SampleStyleChoice},
			boxes: [][4]float64{{2, 2, 4, 4}},
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				assert.Equal(t, 20, img.Bounds().Dx())
				assert.Equal(t, [][4]float64{{2, 2, 4, 4}}, boxes)
			},
		},
		{
			name:  "range sampling stays in range",
			aug:   ResizeShortestEdge{ShortEdge: []int{12, 14}, SampleStyle: SampleStyleRange},
			boxes: nil,
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				h := img.Bounds().Dy()
				assert.GreaterOrEqual(t, h, 12)
				assert.LessOrEqual(t, h, 14)
			},
		},
		{
			name:  "horizontal flip",
			aug:   RandomFlip{Prob: 1},
			boxes: [][4]float64{{2, 1, 5, 3}},
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				assert.Equal(t, [][4]float64{{15, 1, 18, 3}}, boxes)
			},
		},
		{
			name:  "vertical flip",
			aug:   RandomFlip{Prob: 1, Vertical: true},
			boxes: [][4]float64{{2, 1, 5, 3}},
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				assert.Equal(t, [][4]float64{{2, 7, 5, 9}}, boxes)
			},
		},
		{
			name:  "flip never applied with zero probability",
			aug:   RandomFlip{Prob: 0},
			boxes: [][4]float64{{2, 1, 5, 3}},
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				assert.Equal(t, [][4]float64{{2, 1, 5, 3}}, boxes)
			},
		},
		{
			name:  "absolute crop clips boxes",
			aug:   RandomCrop{Type: CropTypeAbsolute, Size: [2]float64{5, 5}},
			boxes: [][4]float64{{0, 0, 20, 10}},
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				assert.Equal(t, 5, img.Bounds().Dx())
				assert.Equal(t, 5, img.Bounds().Dy())
				assert.Equal(t, [][4]float64{{0, 0, 5, 5}}, boxes)
			},
		},
		{
			name:  "relative crop",
			aug:   RandomCrop{Type: CropTypeRelative, Size: [2]float64{0.5, 0.5}},
			boxes: nil,
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				assert.Equal(t, 10, img.Bounds().Dx())
				assert.Equal(t, 5, img.Bounds().Dy())
			},
		},
		{
			name:  "absolute range crop",
			aug:   RandomCrop{Type: CropTypeAbsoluteRange, Size: [2]float64{4, 8}},
			boxes: nil,
			expect: func(t *testing.T, img image.Image, boxes [][4]float64) {
				b := img.Bounds()
				assert.True(t, b.Dx() >= 4 && b.Dx() <= 8)
				assert.True(t, b.Dy() >= 4 && b.Dy() <= 8)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img := imaging.New(20, 10, image.White.C)
			out, boxes := tc.aug.Apply(img, tc.boxes, rng())
			tc.expect(t, out, boxes)
		})
	}
}
