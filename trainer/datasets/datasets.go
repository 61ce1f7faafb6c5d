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

// Package datasets registers the project's COCO datasets.
package datasets

import (
	"github.com/uavdetect/detrtrain/pkg/catalog"
)

type cocoDataset struct {
	name      string
	jsonFile  string
	imageRoot string
}

// Paths are relative to the working directory of the run.
var builtin = []cocoDataset{
	{"uav_dataset1", "uav-detect/cars-only/dataset1/dataset1_x1y1wh.json", "uav-detect/cars-only/dataset1/images"},
	{"uav_dataset2", "uav-detect/cars-only/dataset2/dataset2_x1y1wh.json", "uav-detect/cars-only/dataset2/images"},
	{"uav_dataset3", "uav-detect/cars-only/dataset3/dataset3_x1y1wh.json", "uav-detect/cars-only/dataset3/images"},
	{"uav_dataset4", "uav-detect/cars-only/dataset4/dataset4_x1y1wh.json", "uav-detect/cars-only/dataset4/images"},
	{"shapes_train", "shapes/Shapes_7500imgs_mod4/shapes.json", "shapes/Shapes_7500imgs_mod4/images"},
	{"shapes_val_no_gauss", "shapes/Shapes_1500imgs/no_gauss/shapes.json", "shapes/Shapes_1500imgs/no_gauss/images"},
	{"aerial_train_cars", "aerial-cars/cars-only/labels/aerial_train.json", "aerial-cars/cars-only/images/train"},
	{"aerial_valid_cars", "aerial-cars/cars-only/labels/aerial_valid.json", "aerial-cars/cars-only/images/valid"},
}

// Register adds the UAV, shapes and aerial car datasets to c with empty metadata.
func Register(c *catalog.Catalog) error {
	for _, d := range builtin {
		if err := c.RegisterCOCOInstances(d.name, map[string]string{}, d.jsonFile, d.imageRoot); err != nil {
			return err
		}
	}

	return nil
}

// Names lists the datasets Register adds, in registration order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for _, d := range builtin {
		names = append(names, d.name)
	}

	return names
}
