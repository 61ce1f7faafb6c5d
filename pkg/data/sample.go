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

	"github.com/uavdetect/detrtrain/pkg/coco"
)

// Instance is a ground truth object after transforms.
type Instance struct {
	// Box is XYXY in pixels of the transformed image.
	Box   [4]float64
	Class int
}

// Sample is one mapped image ready for a model.
type Sample struct {
	FileName string
	ImageID  int64

	// Image is CHW float data in the configured channel order, values in [0, 255].
	Image  []float32
	Height int
	Width  int

	// OrigHeight and OrigWidth are the size recorded in the annotation file, used to map
	// predictions back to the original image.
	OrigHeight int
	OrigWidth  int

	Instances []Instance
}

// Mapper turns a dataset record into a Sample. Implementations must be safe for
// concurrent use; randomness comes from rng, which is owned by the caller.
type Mapper interface {
	Map(rec coco.Record, rng *rand.Rand) (Sample, error)
}

// toCHW converts img to planar float data. BGR swaps the first and last plane.
func toCHW(img image.Image, format string) ([]float32, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	r, bl := 0, 2
	if format == "BGR" {
		r, bl = 2, 0
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out[r*plane+i] = float32(cr >> 8)
			out[plane+i] = float32(cg >> 8)
			out[bl*plane+i] = float32(cb >> 8)
		}
	}

	return out, h, w
}
