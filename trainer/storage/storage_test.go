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

package storage

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mockMetrics = []Metrics{
	{RunID: "foo", Iteration: 19, TotalLoss: 3.5, LossCE: 1.5, LossBBox: 2, LossGIoU: 0.25, LR: 0.0001, IterTime: 0.5, DataTime: 0.01, CreatedAt: 1},
	{RunID: "foo", Iteration: 39, TotalLoss: 2.5, LossCE: 1, LossBBox: 1.5, LossGIoU: 0.5, LR: 0.0001, IterTime: 0.4, DataTime: 0.02, CreatedAt: 2},
}

func TestStorage_New(t *testing.T) {
	tests := []struct {
		name    string
		baseDir string
		expect  func(t *testing.T, s Storage)
	}{
		{
			name:    "new storage",
			baseDir: os.TempDir(),
			expect: func(t *testing.T, s Storage) {
				assert := assert.New(t)
				assert.Equal(reflect.TypeOf(s).Elem().Name(), "storage")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.expect(t, New(tc.baseDir))
		})
	}
}

func TestStorage_CreateMetrics(t *testing.T) {
	tests := []struct {
		name   string
		mock   func(t *testing.T, s Storage)
		expect func(t *testing.T, s Storage, baseDir string)
	}{
		{
			name: "rows are appended with a single header",
			mock: func(t *testing.T, s Storage) {
				require.NoError(t, s.CreateMetrics(mockMetrics[0]))
				require.NoError(t, s.CreateMetrics(mockMetrics[1]))
			},
			expect: func(t *testing.T, s Storage, baseDir string) {
				assert := assert.New(t)
				rows, err := s.ListMetrics()
				assert.NoError(err)
				assert.Equal(mockMetrics, rows)

				r, err := s.OpenMetrics()
				require.NoError(t, err)
				defer r.Close()
				b, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(1, strings.Count(string(b), "runID,iteration,totalLoss"))
				assert.Equal(3, strings.Count(string(b), "\n"))
			},
		},
		{
			name: "no rows",
			mock: func(t *testing.T, s Storage) {
				require.NoError(t, s.CreateMetrics())
			},
			expect: func(t *testing.T, s Storage, baseDir string) {
				_, err := s.ListMetrics()
				assert.True(t, os.IsNotExist(err))
			},
		},
		{
			name: "empty file",
			mock: func(t *testing.T, s Storage) {
				f, err := os.Create(filepath.Join(s.(*storage).baseDir, MetricsFileName))
				require.NoError(t, err)
				require.NoError(t, f.Close())
			},
			expect: func(t *testing.T, s Storage, baseDir string) {
				_, err := s.ListMetrics()
				assert.ErrorIs(t, err, ErrEmpty)
			},
		},
		{
			name: "missing directory",
			mock: func(t *testing.T, s Storage) {
				s.(*storage).baseDir = filepath.Join(s.(*storage).baseDir, "missing")
			},
			expect: func(t *testing.T, s Storage, baseDir string) {
				assert.Error(t, s.CreateMetrics(mockMetrics...))
				_, err := s.OpenMetrics()
				assert.Error(t, err)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			baseDir := t.TempDir()
			s := New(baseDir)
			tc.mock(t, s)
			tc.expect(t, s, baseDir)
		})
	}
}

func TestStorage_CreateEvaluation(t *testing.T) {
	baseDir := t.TempDir()
	s := New(baseDir)
	rows := []Evaluation{
		{RunID: "foo", Iteration: 99, Dataset: "uav_dataset4", Task: "bbox", Metric: "AP", Value: 41.5, CreatedAt: 1},
		{RunID: "foo", Iteration: 99, Dataset: "uav_dataset4", Task: "bbox", Metric: "AP50", Value: 70, CreatedAt: 1},
	}

	require.NoError(t, s.CreateEvaluation(rows...))
	got, err := s.ListEvaluation()
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestStorage_Clear(t *testing.T) {
	baseDir := t.TempDir()
	s := New(baseDir)
	require.NoError(t, s.CreateMetrics(mockMetrics...))
	require.NoError(t, s.CreateEvaluation(Evaluation{RunID: "foo", Dataset: "bar", Task: "bbox", Metric: "AP", Value: 1}))

	unrelated := filepath.Join(baseDir, "config.yaml")
	require.NoError(t, os.WriteFile(unrelated, []byte("SEED: 1\n"), 0600))

	assert := assert.New(t)
	assert.NoError(s.Clear())
	_, err := os.Stat(filepath.Join(baseDir, MetricsFileName))
	assert.True(os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(baseDir, EvaluationFileName))
	assert.True(os.IsNotExist(err))
	_, err = os.Stat(unrelated)
	assert.NoError(err)
	assert.NoError(s.Clear())
}
