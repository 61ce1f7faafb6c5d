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

package coco

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Result is one detection in the COCO results format.
type Result struct {
	ImageID    int64   `json:"image_id"`
	CategoryID int     `json:"category_id"`
	BBox       Box     `json:"bbox"`
	Score      float64 `json:"score"`
}

// WriteResults writes results as a json array, the format accepted by pycocotools loadRes.
func WriteResults(path string, results []Result) error {
	if results == nil {
		results = []Result{}
	}

	b, err := json.Marshal(results)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrapf(err, "write results %s", path)
	}

	return nil
}

func ReadResults(path string) ([]Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var results []Result
	if err := json.Unmarshal(b, &results); err != nil {
		return nil, errors.Wrapf(err, "parse results %s", path)
	}

	return results, nil
}
