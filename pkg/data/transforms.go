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
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Augmentation transforms an image together with its XYXY boxes.
type Augmentation interface {
	Apply(img image.Image, boxes [][4]float64, rng *rand.Rand) (image.Image, [][4]float64)
}

// ResizeShortestEdge scales the short side to a sampled size, keeping the long side
// within MaxSize.
type ResizeShortestEdge struct {
	ShortEdge   []int
	MaxSize     int
	SampleStyle string
}

func (r ResizeShortestEdge) sample(rng *rand.Rand) int {
	if len(r.ShortEdge) == 0 {
		return 0
	}

	if r.SampleStyle == SampleStyleRange && len(r.ShortEdge) == 2 {
		lo, hi := r.ShortEdge[0], r.ShortEdge[1]
		return lo + rng.Intn(hi-lo+1)
	}

	return r.ShortEdge[rng.Intn(len(r.ShortEdge))]
}

// OutputShape returns the resized height and width for a short edge of size.
func (r ResizeShortestEdge) OutputShape(h, w, size int) (int, int) {
	scale := float64(size) / math.Min(float64(h), float64(w))
	newH, newW := float64(h)*scale, float64(w)*scale
	if long := math.Max(newH, newW); r.MaxSize > 0 && long > float64(r.MaxSize) {
		newH = newH * float64(r.MaxSize) / long
		newW = newW * float64(r.MaxSize) / long
	}

	return int(newH + 0.5), int(newW + 0.5)
}

func (r ResizeShortestEdge) Apply(img image.Image, boxes [][4]float64, rng *rand.Rand) (image.Image, [][4]float64) {
	size := r.sample(rng)
	if size == 0 {
		return img, boxes
	}

	h, w := img.Bounds().Dy(), img.Bounds().Dx()
	newH, newW := r.OutputShape(h, w, size)
	if newH == h && newW == w {
		return img, boxes
	}

	sx, sy := float64(newW)/float64(w), float64(newH)/float64(h)
	out := make([][4]float64, len(boxes))
	for i, b := range boxes {
		out[i] = [4]float64{b[0] * sx, b[1] * sy, b[2] * sx, b[3] * sy}
	}

	return imaging.Resize(img, newW, newH, imaging.Linear), out
}

// RandomFlip flips with probability Prob.
type RandomFlip struct {
	Prob     float64
	Vertical bool
}

func (f RandomFlip) Apply(img image.Image, boxes [][4]float64, rng *rand.Rand) (image.Image, [][4]float64) {
	if rng.Float64() >= f.Prob {
		return img, boxes
	}

	h, w := float64(img.Bounds().Dy()), float64(img.Bounds().Dx())
	out := make([][4]float64, len(boxes))
	if f.Vertical {
		for i, b := range boxes {
			out[i] = [4]float64{b[0], h - b[3], b[2], h - b[1]}
		}
		return imaging.FlipV(img), out
	}

	for i, b := range boxes {
		out[i] = [4]float64{w - b[2], b[1], w - b[0], b[3]}
	}
	return imaging.FlipH(img), out
}

// RandomCrop cuts a window whose size is derived from Type and Size.
type RandomCrop struct {
	Type string
	Size [2]float64
}

func (c RandomCrop) cropSize(h, w int, rng *rand.Rand) (int, int) {
	switch c.Type {
	case CropTypeRelative:
		return int(float64(h)*c.Size[0] + 0.5), int(float64(w)*c.Size[1] + 0.5)
	case CropTypeRelativeRange:
		ch := c.Size[0] + rng.Float64()*(1-c.Size[0])
		cw := c.Size[1] + rng.Float64()*(1-c.Size[1])
		return int(float64(h)*ch + 0.5), int(float64(w)*cw + 0.5)
	case CropTypeAbsolute:
		return min(int(c.Size[0]), h), min(int(c.Size[1]), w)
	case CropTypeAbsoluteRange:
		lo, hi := int(c.Size[0]), int(c.Size[1])
		ch := min(h, lo) + rng.Intn(min(h, hi)-min(h, lo)+1)
		cw := min(w, lo) + rng.Intn(min(w, hi)-min(w, lo)+1)
		return ch, cw
	default:
		return h, w
	}
}

func (c RandomCrop) Apply(img image.Image, boxes [][4]float64, rng *rand.Rand) (image.Image, [][4]float64) {
	h, w := img.Bounds().Dy(), img.Bounds().Dx()
	ch, cw := c.cropSize(h, w, rng)
	ch, cw = max(1, min(ch, h)), max(1, min(cw, w))

	y0, x0 := rng.Intn(h-ch+1), rng.Intn(w-cw+1)
	out := make([][4]float64, len(boxes))
	for i, b := range boxes {
		out[i] = [4]float64{
			clamp(b[0]-float64(x0), 0, float64(cw)),
			clamp(b[1]-float64(y0), 0, float64(ch)),
			clamp(b[2]-float64(x0), 0, float64(cw)),
			clamp(b[3]-float64(y0), 0, float64(ch)),
		}
	}

	min := img.Bounds().Min
	return imaging.Crop(img, image.Rect(min.X+x0, min.Y+y0, min.X+x0+cw, min.Y+y0+ch)), out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func applyAll(augs []Augmentation, img image.Image, boxes [][4]float64, rng *rand.Rand) (image.Image, [][4]float64) {
	for _, a := range augs {
		img, boxes = a.Apply(img, boxes, rng)
	}

	return img, boxes
}

// buildAugmentations returns the resize and flip augmentations of cfg.
func buildAugmentations(cfg InputConfig, isTrain bool) []Augmentation {
	if !isTrain {
		return []Augmentation{ResizeShortestEdge{ShortEdge: []int{cfg.MinSizeTest}, MaxSize: cfg.MaxSizeTest, SampleStyle: SampleStyleChoice}}
	}

	augs := []Augmentation{ResizeShortestEdge{ShortEdge: cfg.MinSizeTrain, MaxSize: cfg.MaxSizeTrain, SampleStyle: cfg.MinSizeTrainSampling}}
	switch cfg.RandomFlip {
	case "horizontal":
		augs = append(augs, RandomFlip{Prob: 0.5})
	case "vertical":
		augs = append(augs, RandomFlip{Prob: 0.5, Vertical: true})
	}

	return augs
}
