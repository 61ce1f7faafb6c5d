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

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/uavdetect/detrtrain/pkg/coco"
)

// detrCropShortEdge is the intermediate resize used before a DETR random crop.
var detrCropShortEdge = []int{400, 500, 600}

// DatasetMapper is the default mapper: optional crop, resize shortest edge and flip.
type DatasetMapper struct {
	isTrain bool
	format  string
	augs    []Augmentation
}

// NewDatasetMapper returns the default mapper for cfg.
func NewDatasetMapper(cfg InputConfig, isTrain bool) Mapper {
	augs := buildAugmentations(cfg, isTrain)
	if isTrain && cfg.Crop.Enabled {
		augs = append([]Augmentation{newRandomCrop(cfg.Crop)}, augs...)
	}

	return &DatasetMapper{
		isTrain: isTrain,
		format:  cfg.Format,
		augs:    augs,
	}
}

func (m *DatasetMapper) Map(rec coco.Record, rng *rand.Rand) (Sample, error) {
	img, err := readImage(rec)
	if err != nil {
		return Sample{}, err
	}

	boxes, classes := annotations(rec)
	img, boxes = applyAll(m.augs, img, boxes, rng)
	return newSample(rec, img, boxes, classes, m.isTrain, m.format), nil
}

// DetrDatasetMapper flips and resizes, and with cropping enabled picks between a plain
// resize and resize, crop, resize with equal probability.
type DetrDatasetMapper struct {
	isTrain bool
	format  string
	flip    Augmentation
	resize  Augmentation
	crop    []Augmentation
}

// NewDetrDatasetMapper returns the DETR mapper for cfg.
func NewDetrDatasetMapper(cfg InputConfig, isTrain bool) Mapper {
	m := &DetrDatasetMapper{
		isTrain: isTrain,
		format:  cfg.Format,
	}

	if !isTrain {
		m.resize = ResizeShortestEdge{ShortEdge: []int{cfg.MinSizeTest}, MaxSize: cfg.MaxSizeTest, SampleStyle: SampleStyleChoice}
		return m
	}

	m.resize = ResizeShortestEdge{ShortEdge: cfg.MinSizeTrain, MaxSize: cfg.MaxSizeTrain, SampleStyle: cfg.MinSizeTrainSampling}
	switch cfg.RandomFlip {
	case "horizontal":
		m.flip = RandomFlip{Prob: 0.5}
	case "vertical":
		m.flip = RandomFlip{Prob: 0.5, Vertical: true}
	}

	if cfg.Crop.Enabled {
		m.crop = []Augmentation{
			ResizeShortestEdge{ShortEdge: detrCropShortEdge, SampleStyle: SampleStyleChoice},
			newRandomCrop(cfg.Crop),
		}
	}

	return m
}

// augmentations returns the pipeline for one call.
func (m *DetrDatasetMapper) augmentations(rng *rand.Rand) []Augmentation {
	var augs []Augmentation
	if m.flip != nil {
		augs = append(augs, m.flip)
	}

	if m.crop != nil && rng.Float64() <= 0.5 {
		augs = append(augs, m.crop...)
	}

	return append(augs, m.resize)
}

func (m *DetrDatasetMapper) Map(rec coco.Record, rng *rand.Rand) (Sample, error) {
	img, err := readImage(rec)
	if err != nil {
		return Sample{}, err
	}

	boxes, classes := annotations(rec)
	img, boxes = applyAll(m.augmentations(rng), img, boxes, rng)
	return newSample(rec, img, boxes, classes, m.isTrain, m.format), nil
}

func newRandomCrop(cfg CropConfig) RandomCrop {
	c := RandomCrop{Type: cfg.Type}
	copy(c.Size[:], cfg.Size)
	return c
}

func readImage(rec coco.Record) (image.Image, error) {
	img, err := imaging.Open(rec.FileName, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "read image %s", rec.FileName)
	}

	b := img.Bounds()
	if (rec.Width > 0 && rec.Width != b.Dx()) || (rec.Height > 0 && rec.Height != b.Dy()) {
		return nil, errors.Errorf("mismatched image shape for %s: got %dx%d, expect %dx%d",
			rec.FileName, b.Dx(), b.Dy(), rec.Width, rec.Height)
	}

	return img, nil
}

// annotations returns the non-crowd boxes of rec in XYXY form.
func annotations(rec coco.Record) ([][4]float64, []int) {
	boxes := make([][4]float64, 0, len(rec.Instances))
	classes := make([]int, 0, len(rec.Instances))
	for _, inst := range rec.Instances {
		if inst.IsCrowd {
			continue
		}

		boxes = append(boxes, inst.BBox.XYXY())
		classes = append(classes, inst.CategoryID)
	}

	return boxes, classes
}

// newSample drops empty boxes and converts img. Test samples carry no instances.
func newSample(rec coco.Record, img image.Image, boxes [][4]float64, classes []int, isTrain bool, format string) Sample {
	data, h, w := toCHW(img, format)
	s := Sample{
		FileName:   rec.FileName,
		ImageID:    rec.ImageID,
		Image:      data,
		Height:     h,
		Width:      w,
		OrigHeight: rec.Height,
		OrigWidth:  rec.Width,
	}
	if s.OrigHeight == 0 || s.OrigWidth == 0 {
		s.OrigHeight, s.OrigWidth = h, w
	}

	if !isTrain {
		return s
	}

	for i, b := range boxes {
		if b[2]-b[0] <= emptyBoxThreshold || b[3]-b[1] <= emptyBoxThreshold {
			continue
		}

		s.Instances = append(s.Instances, Instance{Box: b, Class: classes[i]})
	}

	return s
}

const emptyBoxThreshold = 1e-5
