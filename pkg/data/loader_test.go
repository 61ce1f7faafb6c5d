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
	"context"
	"io"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uavdetect/detrtrain/pkg/catalog"
)

func TestTrainingSamplerSharding(t *testing.T) {
	const size = 6
	r0 := NewTrainingSampler(size, 42, 0, 2)
	r1 := NewTrainingSampler(size, 42, 1, 2)

	var epoch []int
	for i := 0; i < size/2; i++ {
		epoch = append(epoch, r0.Next(), r1.Next())
	}
	sort.Ints(epoch)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, epoch)

	single := NewTrainingSampler(size, 42, 0, 0)
	seen := map[int]bool{}
	for i := 0; i < size; i++ {
		seen[single.Next()] = true
	}
	assert.Len(t, seen, size)
}

func TestBuildDetectionTrainLoader(t *testing.T) {
	input := DefaultInputConfig()
	input.MinSizeTrain = []int{10}
	input.RandomFlip = "none"

	tests := []struct {
		name   string
		names  []string
		opts   TrainLoaderOptions
		mutate func(t *testing.T, c *catalog.Catalog)
		expect func(t *testing.T, l *TrainLoader, err error)
	}{
		{
			name:  "yields full batches",
			names: []string{"cars"},
			opts:  TrainLoaderOptions{Input: input, BatchSize: 2, NumWorkers: 2, FilterEmpty: true, WorldSize: 1},
			expect: func(t *testing.T, l *TrainLoader, err error) {
				require.NoError(t, err)
				for i := 0; i < 3; i++ {
					batch, err := l.Next(context.Background())
					require.NoError(t, err)
					require.Len(t, batch, 2)
					for _, s := range batch {
						assert.NotEqual(t, int64(3), s.ImageID)
						assert.Len(t, s.Instances, 1)
					}
				}
				assert.NoError(t, l.Close())
				_, err = l.Next(context.Background())
				assert.ErrorIs(t, err, ErrLoaderClosed)
			},
		},
		{
			name:  "unknown dataset",
			names: []string{"missing"},
			opts:  TrainLoaderOptions{Input: input, BatchSize: 1},
			expect: func(t *testing.T, l *TrainLoader, err error) {
				assert.ErrorIs(t, err, catalog.ErrNotFound)
			},
		},
		{
			name:  "no datasets",
			names: nil,
			opts:  TrainLoaderOptions{Input: input, BatchSize: 1},
			expect: func(t *testing.T, l *TrainLoader, err error) {
				assert.ErrorContains(t, err, "no training datasets")
			},
		},
		{
			name:  "mapping error stops the loader",
			names: []string{"cars"},
			opts:  TrainLoaderOptions{Input: input, BatchSize: 1, NumWorkers: 1, FilterEmpty: true},
			mutate: func(t *testing.T, c *catalog.Catalog) {
				e, err := c.Get("cars")
				require.NoError(t, err)
				require.NoError(t, os.RemoveAll(e.ImageRoot))
			},
			expect: func(t *testing.T, l *TrainLoader, err error) {
				require.NoError(t, err)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				for {
					_, err = l.Next(ctx)
					if err != nil {
						break
					}
				}
				assert.ErrorContains(t, err, "read image")
				assert.Error(t, l.Close())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := catalog.New()
			writeDataset(t, c, "cars")
			if tc.mutate != nil {
				tc.mutate(t, c)
			}

			l, err := BuildDetectionTrainLoader(context.Background(), c, tc.names, nil, tc.opts)
			tc.expect(t, l, err)
		})
	}
}

func TestFilterEmptyLeavesNothing(t *testing.T) {
	c := catalog.New()
	writeDataset(t, c, "cars")
	records, _, err := c.Load("cars")
	require.NoError(t, err)
	for i := range records {
		records[i].Instances = nil
	}
	assert.Empty(t, filterEmpty(records))
}

func TestTestLoader(t *testing.T) {
	c := catalog.New()
	writeDataset(t, c, "cars")
	input := DefaultInputConfig()
	input.MinSizeTest = 0

	l, err := BuildDetectionTestLoader(c, "cars", nil, input)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())

	ctx := context.Background()
	var ids []int64
	for {
		batch, err := l.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Empty(t, batch[0].Instances)
		ids = append(ids, batch[0].ImageID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	l.Reset()
	batch, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), batch[0].ImageID)
	assert.NoError(t, l.Close())

	_, err = BuildDetectionTestLoader(c, "missing", nil, input)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
