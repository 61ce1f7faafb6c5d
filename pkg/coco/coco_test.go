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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const carsJSON = `{
  "images": [
    {"id": 1, "file_name": "a.jpg", "width": 640, "height": 480},
    {"id": 2, "file_name": "b.jpg", "width": 320, "height": 240}
  ],
  "annotations": [
    {"id": 10, "image_id": 1, "category_id": 3, "bbox": [10, 20, 30, 40], "area": 1200, "iscrowd": 0},
    {"id": 11, "image_id": 1, "category_id": 1, "bbox": [0, 0, 5, 5], "area": 25, "iscrowd": 1}
  ],
  "categories": [
    {"id": 3, "name": "truck"},
    {"id": 1, "name": "car"}
  ]
}`

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		expect  func(t *testing.T, records []Record, meta *Metadata, err error)
	}{
		{
			name:    "load records",
			content: carsJSON,
			expect: func(t *testing.T, records []Record, meta *Metadata, err error) {
				assert := assert.New(t)
				require.NoError(t, err)
				assert.Equal([]string{"car", "truck"}, meta.ThingClasses)
				assert.Equal([]int{1, 3}, meta.ContiguousIDToThingDatasetID)
				require.Len(t, records, 2)
				assert.Equal(filepath.Join("images", "a.jpg"), records[0].FileName)
				assert.Equal(Instance{BBox: Box{10, 20, 30, 40}, CategoryID: 1}, records[0].Instances[0])
				assert.True(records[0].Instances[1].IsCrowd)
				assert.Empty(records[1].Instances)
			},
		},
		{
			name:    "unknown category",
			content: `{"images":[{"id":1}],"annotations":[{"id":1,"image_id":1,"category_id":9}],"categories":[]}`,
			expect: func(t *testing.T, records []Record, meta *Metadata, err error) {
				assert.ErrorContains(t, err, "unknown category 9")
			},
		},
		{
			name:    "invalid json",
			content: `{"images":`,
			expect: func(t *testing.T, records []Record, meta *Metadata, err error) {
				assert.ErrorContains(t, err, "parse annotations")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "instances.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0600))
			records, meta, err := Load(path, "images")
			tc.expect(t, records, meta, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.json"), "images")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBox(t *testing.T) {
	assert := assert.New(t)
	b := Box{1, 2, 3, 4}
	assert.Equal([4]float64{1, 2, 4, 6}, b.XYXY())
	assert.Equal(12.0, b.Area())
	assert.Equal(0.0, Box{0, 0, -1, 2}.Area())
}

func TestResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coco_instances_results.json")
	require.NoError(t, WriteResults(path, nil))
	results, err := ReadResults(path)
	require.NoError(t, err)
	assert.Empty(t, results)

	want := []Result{{ImageID: 1, CategoryID: 3, BBox: Box{1, 2, 3, 4}, Score: 0.5}}
	require.NoError(t, WriteResults(path, want))
	results, err = ReadResults(path)
	require.NoError(t, err)
	assert.Equal(t, want, results)
}
