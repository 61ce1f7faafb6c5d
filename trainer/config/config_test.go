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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uavdetect/detrtrain/pkg/modeling"
)

func newDetrConfig(t *testing.T) *Config {
	t.Helper()
	cfg := New()
	require.NoError(t, cfg.AddDetrConfig())
	return cfg
}

func TestConfig_New(t *testing.T) {
	cfg := New()
	assert := assert.New(t)
	assert.Equal("SGD", cfg.Solver.Optimizer)
	assert.Equal(1.0, cfg.Solver.BackboneMultiplier)
	assert.Equal("Detr", cfg.Model.MetaArchitecture)
	assert.Equal(DefaultOutputDir, cfg.OutputDir)
	assert.Equal(DefaultMetricsAddr, cfg.Metrics.Addr)
	assert.False(cfg.IsFrozen())

	require.NoError(t, cfg.AddDetrConfig())
	assert.Equal("ADAMW", cfg.Solver.Optimizer)
	assert.Equal(0.1, cfg.Solver.BackboneMultiplier)
	assert.Equal(modeling.DefaultDetrConfig(), cfg.Model.Detr)
	assert.NoError(cfg.Validate())
}

func TestConfig_MergeFromFile(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		expect func(t *testing.T, cfg *Config, err error)
	}{
		{
			name: "base is merged first and resolved against the including file",
			path: "testdata/nested/child.yaml",
			expect: func(t *testing.T, cfg *Config, err error) {
				assert := assert.New(t)
				require.NoError(t, err)
				assert.Equal(0.02, cfg.Solver.BaseLR)
				assert.Equal([]int{100, 200}, cfg.Solver.Steps)
				assert.Equal(500, cfg.Solver.MaxIter)
				assert.Equal([]int{640, 672}, cfg.Input.MinSizeTrain)
				assert.True(cfg.Solver.ClipGradients.Enabled)
				assert.Equal("norm", cfg.Solver.ClipGradients.ClipType)
				assert.Equal([]string{"shapes_train"}, cfg.Datasets.Train)
				assert.Equal(0.9, cfg.Solver.Momentum)
				assert.Equal("ADAMW", cfg.Solver.Optimizer)
			},
		},
		{
			name: "unknown key",
			path: "testdata/unknown.yaml",
			expect: func(t *testing.T, cfg *Config, err error) {
				assert.ErrorIs(t, err, ErrUnknownKey)
				assert.ErrorContains(t, err, "SOLVER.LR_POLICY")
			},
		},
		{
			name: "recursive base",
			path: "testdata/loop.yaml",
			expect: func(t *testing.T, cfg *Config, err error) {
				assert.ErrorContains(t, err, "included recursively")
			},
		},
		{
			name: "missing file",
			path: "testdata/missing.yaml",
			expect: func(t *testing.T, cfg *Config, err error) {
				assert.ErrorContains(t, err, "read config testdata/missing.yaml")
			},
		},
		{
			name: "shipped uav config",
			path: "../../configs/detr_uav_cars.yaml",
			expect: func(t *testing.T, cfg *Config, err error) {
				assert := assert.New(t)
				require.NoError(t, err)
				assert.NoError(cfg.Validate())
				assert.Equal(1, cfg.Model.Detr.NumClasses)
				assert.Equal([]string{"uav_dataset1", "uav_dataset2", "uav_dataset3", "aerial_train_cars"}, cfg.Datasets.Train)
				assert.Equal([]string{"uav_dataset4", "aerial_valid_cars"}, cfg.Datasets.Test)
				assert.Equal([]int{60000}, cfg.Solver.Steps)
				assert.Equal("full_model", cfg.Solver.ClipGradients.ClipType)
				assert.Equal(0.01, cfg.Solver.ClipGradients.ClipValue)
				assert.Equal([]float64{384, 600}, cfg.Input.Crop.Size)
				assert.Len(cfg.Input.MinSizeTrain, 11)
				assert.False(cfg.Model.MaskOn)
				assert.Equal("RGB", cfg.Input.Format)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newDetrConfig(t)
			tc.expect(t, cfg, cfg.MergeFromFile(tc.path))
		})
	}
}

func TestConfig_MergeFromList(t *testing.T) {
	tests := []struct {
		name   string
		opts   []string
		expect func(t *testing.T, cfg *Config, err error)
	}{
		{
			name: "scalars, tuples and lists",
			opts: []string{
				"SOLVER.BASE_LR", "0.0005",
				"MODEL.WEIGHTS", "output/model_final.born",
				"DATASETS.TEST", "('aerial_valid_cars',)",
				"INPUT.MIN_SIZE_TRAIN", "[512, 544]",
				"SOLVER.CLIP_GRADIENTS.ENABLED", "True",
			},
			expect: func(t *testing.T, cfg *Config, err error) {
				assert := assert.New(t)
				require.NoError(t, err)
				assert.Equal(0.0005, cfg.Solver.BaseLR)
				assert.Equal("output/model_final.born", cfg.Model.Weights)
				assert.Equal([]string{"aerial_valid_cars"}, cfg.Datasets.Test)
				assert.Equal([]int{512, 544}, cfg.Input.MinSizeTrain)
				assert.True(cfg.Solver.ClipGradients.Enabled)
			},
		},
		{
			name: "later pairs win",
			opts: []string{"SOLVER.MAX_ITER", "10", "SOLVER.MAX_ITER", "20"},
			expect: func(t *testing.T, cfg *Config, err error) {
				require.NoError(t, err)
				assert.Equal(t, 20, cfg.Solver.MaxIter)
			},
		},
		{
			name: "lists are replaced, not merged",
			opts: []string{"SOLVER.STEPS", "()"},
			expect: func(t *testing.T, cfg *Config, err error) {
				require.NoError(t, err)
				assert.Empty(t, cfg.Solver.Steps)
			},
		},
		{
			name: "odd length",
			opts: []string{"SOLVER.BASE_LR"},
			expect: func(t *testing.T, cfg *Config, err error) {
				assert.ErrorContains(t, err, "odd length 1")
			},
		},
		{
			name: "unknown key",
			opts: []string{"SOLVER.NOPE", "1"},
			expect: func(t *testing.T, cfg *Config, err error) {
				assert.ErrorIs(t, err, ErrUnknownKey)
				assert.ErrorContains(t, err, "SOLVER.NOPE")
			},
		},
		{
			name: "section is not a value",
			opts: []string{"SOLVER", "1"},
			expect: func(t *testing.T, cfg *Config, err error) {
				assert.ErrorIs(t, err, ErrUnknownKey)
			},
		},
		{
			name: "wrong type",
			opts: []string{"SOLVER.MAX_ITER", "many"},
			expect: func(t *testing.T, cfg *Config, err error) {
				assert.Error(t, err)
				assert.False(t, errors.Is(err, ErrUnknownKey))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newDetrConfig(t)
			tc.expect(t, cfg, cfg.MergeFromList(tc.opts))
		})
	}
}

func TestConfig_Freeze(t *testing.T) {
	cfg := newDetrConfig(t)
	cfg.Freeze()
	assert := assert.New(t)
	assert.True(cfg.IsFrozen())
	assert.ErrorIs(cfg.MergeFromList([]string{"SEED", "1"}), ErrFrozen)
	assert.ErrorIs(cfg.MergeFromFile("testdata/base.yaml"), ErrFrozen)
	assert.ErrorIs(cfg.AddDetrConfig(), ErrFrozen)
	assert.Equal(int64(DefaultSeed), cfg.Seed)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		opts   []string
		expect func(t *testing.T, err error)
	}{
		{
			name: "defaults",
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "unknown meta architecture",
			opts: []string{"MODEL.META_ARCHITECTURE", "GeneralizedRCNN"},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, modeling.ErrUnknownArch)
			},
		},
		{
			name: "unknown clip type",
			opts: []string{"SOLVER.CLIP_GRADIENTS.CLIP_TYPE", "global"},
			expect: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "ClipType")
			},
		},
		{
			name: "unordered steps",
			opts: []string{"SOLVER.STEPS", "(300, 200)"},
			expect: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "must be increasing")
			},
		},
		{
			name: "masks",
			opts: []string{"MODEL.MASK_ON", "true"},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, modeling.ErrMaskUnsupported)
			},
		},
		{
			name: "malformed expected results",
			opts: []string{"TEST.EXPECTED_RESULTS", "[[bbox, AP]]"},
			expect: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "has 2 fields")
			},
		},
		{
			name: "unsupported optimizer is left to the builder",
			opts: []string{"SOLVER.OPTIMIZER", "ADAM"},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newDetrConfig(t)
			require.NoError(t, cfg.MergeFromList(tc.opts))
			tc.expect(t, cfg.Validate())
		})
	}
}

func TestConfig_Dump(t *testing.T) {
	cfg := newDetrConfig(t)
	require.NoError(t, cfg.MergeFromList([]string{
		"DATASETS.TRAIN", "(shapes_train,)",
		"TEST.EXPECTED_RESULTS", "[[bbox, AP, 38.5, 0.2]]",
		"SOLVER.CLIP_GRADIENTS.NORM_TYPE", ".inf",
	}))

	path := filepath.Join(t.TempDir(), "config.yaml")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Dump(f))
	require.NoError(t, f.Close())

	loaded := New()
	require.NoError(t, loaded.MergeFromFile(path))
	assert.Equal(t, cfg.String(), loaded.String())
	assert.True(t, strings.Contains(cfg.String(), "BACKBONE_MULTIPLIER: 0.1"))
	assert.Equal(t, []string{"shapes_train"}, loaded.Datasets.Train)
}
