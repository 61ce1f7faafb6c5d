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

package workpath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		options func(dir string) []Option
		expect  func(t *testing.T, dir string, w Workpath, err error)
	}{
		{
			name:    "default layout",
			options: func(string) []Option { return nil },
			expect: func(t *testing.T, dir string, w Workpath, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(dir, w.OutputDir())
				assert.Equal(filepath.Join(dir, "inference"), w.InferenceDir())
				assert.Equal(filepath.Join(dir, "log"), w.LogDir())
				assert.Equal(filepath.Join(dir, "last_checkpoint"), w.LastCheckpointPath())
				assert.Equal(filepath.Join(dir, "config.yaml"), w.ConfigDumpPath())
				assert.Equal(filepath.Join(dir, "metrics.csv"), w.MetricsHistoryPath())
				assert.Equal(filepath.Join(dir, "inference", "aerial_valid_cars_results.json"), w.EvalResultsPath("aerial_valid_cars"))
				assert.DirExists(w.InferenceDir())
				assert.DirExists(w.LogDir())
			},
		},
		{
			name: "custom log dir",
			options: func(dir string) []Option {
				return []Option{WithLogDir(filepath.Join(dir, "logs", "rank-1"))}
			},
			expect: func(t *testing.T, dir string, w Workpath, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(filepath.Join(dir, "logs", "rank-1"), w.LogDir())
				assert.DirExists(w.LogDir())
			},
		},
		{
			name: "output dir is a file",
			options: func(dir string) []Option {
				return []Option{WithInferenceDir(filepath.Join(dir, "blocker", "inference"))}
			},
			expect: func(t *testing.T, dir string, w Workpath, err error) {
				assert := assert.New(t)
				assert.Error(err)
				assert.Nil(w)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			assert.NoError(t, os.WriteFile(filepath.Join(dir, "blocker"), []byte{}, 0600))
			w, err := New(dir, tc.options(dir)...)
			tc.expect(t, dir, w, err)
		})
	}
}

func TestInferenceDir(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "inference"), InferenceDir("out"))
}
