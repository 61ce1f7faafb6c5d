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

// Package coco reads COCO instance annotation files and writes COCO detection results.
package coco

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// BoxMode XYWH_ABS is the only box mode COCO files use: x, y of the top-left corner
// followed by width and height, in pixels.
type Box [4]float64

// XYXY converts an XYWH_ABS box to corner form.
func (b Box) XYXY() [4]float64 {
	return [4]float64{b[0], b[1], b[0] + b[2], b[1] + b[3]}
}

func (b Box) Area() float64 {
	if b[2] <= 0 || b[3] <= 0 {
		return 0
	}

	return b[2] * b[3]
}

type Image struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Annotation struct {
	ID         int64   `json:"id"`
	ImageID    int64   `json:"image_id"`
	CategoryID int     `json:"category_id"`
	BBox       Box     `json:"bbox"`
	Area       float64 `json:"area"`
	IsCrowd    int     `json:"iscrowd"`
}

type Category struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// File is the subset of a COCO instances json this project reads.
type File struct {
	Images      []Image      `json:"images"`
	Annotations []Annotation `json:"annotations"`
	Categories  []Category   `json:"categories"`
}

// Instance is one annotated object with a contiguous category id in [0, len(ThingClasses)).
type Instance struct {
	BBox       Box
	CategoryID int
	IsCrowd    bool
}

// Record describes one image and its instances.
type Record struct {
	FileName  string
	ImageID   int64
	Width     int
	Height    int
	Instances []Instance
}

// Metadata maps between dataset category ids and contiguous training ids.
type Metadata struct {
	ThingClasses                 []string
	ThingDatasetIDToContiguousID map[int]int
	ContiguousIDToThingDatasetID []int
}

// Load parses the annotation file at jsonFile and resolves image paths against imageRoot.
// Images without annotations are kept; crowd annotations are kept and flagged.
func Load(jsonFile, imageRoot string) ([]Record, *Metadata, error) {
	b, err := os.ReadFile(jsonFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read annotations %s", jsonFile)
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, nil, errors.Wrapf(err, "parse annotations %s", jsonFile)
	}

	meta := NewMetadata(f.Categories)
	byImage := make(map[int64][]Instance, len(f.Images))
	for _, a := range f.Annotations {
		id, ok := meta.ThingDatasetIDToContiguousID[a.CategoryID]
		if !ok {
			return nil, nil, errors.Errorf("annotation %d in %s has unknown category %d", a.ID, jsonFile, a.CategoryID)
		}

		byImage[a.ImageID] = append(byImage[a.ImageID], Instance{
			BBox:       a.BBox,
			CategoryID: id,
			IsCrowd:    a.IsCrowd != 0,
		})
	}

	records := make([]Record, 0, len(f.Images))
	for _, img := range f.Images {
		records = append(records, Record{
			FileName:  filepath.Join(imageRoot, img.FileName),
			ImageID:   img.ID,
			Width:     img.Width,
			Height:    img.Height,
			Instances: byImage[img.ID],
		})
	}

	return records, meta, nil
}

// NewMetadata orders categories by dataset id and assigns contiguous ids in that order.
func NewMetadata(categories []Category) *Metadata {
	cats := append([]Category(nil), categories...)
	sort.Slice(cats, func(i, j int) bool { return cats[i].ID < cats[j].ID })

	meta := &Metadata{
		ThingDatasetIDToContiguousID: make(map[int]int, len(cats)),
	}
	for i, c := range cats {
		meta.ThingClasses = append(meta.ThingClasses, c.Name)
		meta.ThingDatasetIDToContiguousID[c.ID] = i
		meta.ContiguousIDToThingDatasetID = append(meta.ContiguousIDToThingDatasetID, c.ID)
	}

	return meta
}
