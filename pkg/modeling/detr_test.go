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

package modeling

import (
	"math"
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uavdetect/detrtrain/pkg/data"
)

func tinyConfig() Config {
	cfg := DefaultConfig()
	cfg.Backbone = BackboneConfig{FreezeAt: 1, Channels: []int{4, 8}}
	cfg.Detr = DefaultDetrConfig()
	cfg.Detr.NumClasses = 2
	cfg.Detr.HiddenDim = 8
	cfg.Detr.NHeads = 2
	cfg.Detr.DimFeedforward = 16
	cfg.Detr.EncLayers = 1
	cfg.Detr.DecLayers = 2
	cfg.Detr.NumObjectQueries = 5
	cfg.Detr.Dropout = 0
	return cfg
}

func tinySample(id int64, h, w int) data.Sample {
	img := make([]float32, 3*h*w)
	for i := range img {
		img[i] = float32(i % 255)
	}

	return data.Sample{
		ImageID:    id,
		Image:      img,
		Height:     h,
		Width:      w,
		OrigHeight: 2 * h,
		OrigWidth:  2 * w,
		Instances:  []data.Instance{{Box: [4]float64{2, 2, 10, 8}, Class: 1}},
	}
}

func TestNewDetrValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		expect func(t *testing.T, err error)
	}{
		{
			name:   "valid",
			mutate: func(cfg *Config) {},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:   "mask head",
			mutate: func(cfg *Config) { cfg.MaskOn = true },
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMaskUnsupported)
			},
		},
		{
			name:   "heads do not divide hidden dim",
			mutate: func(cfg *Config) { cfg.Detr.NHeads = 3 },
			expect: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "not divisible")
			},
		},
		{
			name:   "no classes",
			mutate: func(cfg *Config) { cfg.Detr.NumClasses = 0 },
			expect: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "number of classes")
			},
		},
		{
			name:   "no backbone stages",
			mutate: func(cfg *Config) { cfg.Backbone.Channels = nil },
			expect: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "backbone")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tinyConfig()
			tc.mutate(&cfg)
			_, err := NewDetr(cfg, NewBackend())
			tc.expect(t, err)
		})
	}
}

func TestDetrNamedParameters(t *testing.T) {
	m, err := NewDetr(tinyConfig(), NewBackend())
	require.NoError(t, err)

	named := m.NamedParameters()
	byName := map[string]NamedParameter[Backend]{}
	for _, p := range named {
		_, dup := byName[p.Name]
		assert.False(t, dup, "duplicate name %s", p.Name)
		byName[p.Name] = p
	}

	assert.Same(t, byName["class_embed.weight"].Param, byName["transformer.decoder.class_embed.weight"].Param)
	assert.Same(t, byName["bbox_embed.layers.2.bias"].Param, byName["transformer.decoder.bbox_embed.layers.2.bias"].Param)
	assert.Equal(t, byName["class_embed.weight"].Raw(), byName["transformer.decoder.class_embed.weight"].Raw())

	assert.False(t, byName["backbone.0.body.conv1.weight"].Trainable())
	assert.False(t, byName["backbone.0.body.conv1.bias"].Trainable())
	assert.True(t, byName["backbone.0.body.conv2.weight"].Trainable())
	assert.True(t, byName["query_embed.weight"].Trainable())
	assert.True(t, byName["transformer.decoder.norm.weight"].Trainable())
	assert.True(t, byName["input_proj.weight"].Trainable())

	sd := m.StateDict()
	assert.Len(t, sd, len(named)-8)
	assert.Contains(t, sd, "class_embed.weight")
	assert.NotContains(t, sd, "transformer.decoder.class_embed.weight")
	assert.Len(t, m.Parameters(), len(sd))

	cfg := tinyConfig()
	cfg.Detr.DeepSupervision = false
	plain, err := NewDetr(cfg, NewBackend())
	require.NoError(t, err)
	assert.Len(t, plain.NamedParameters(), len(plain.StateDict()))
}

func TestDetrLoadStateDict(t *testing.T) {
	src, err := NewDetr(tinyConfig(), NewBackend())
	require.NoError(t, err)
	dst, err := NewDetr(tinyConfig(), NewBackend())
	require.NoError(t, err)

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	for name, raw := range src.StateDict() {
		assert.Equal(t, raw.AsFloat32(), dst.StateDict()[name].AsFloat32(), name)
	}

	sd := src.StateDict()
	delete(sd, "query_embed.weight")
	assert.ErrorContains(t, dst.LoadStateDict(sd), "missing parameter query_embed.weight")

	sd = src.StateDict()
	wrong, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	sd["class_embed.bias"] = wrong
	assert.ErrorContains(t, dst.LoadStateDict(sd), "class_embed.bias has shape")
}

func TestDetrLossesAndInference(t *testing.T) {
	m, err := NewDetr(tinyConfig(), NewBackend())
	require.NoError(t, err)
	m.SetSeed(1)

	batch := []data.Sample{tinySample(1, 16, 16), tinySample(2, 12, 16)}
	total, dict, err := m.Losses(batch)
	require.NoError(t, err)
	require.NotNil(t, total)
	assert.Equal(t, 1, total.NumElements())
	for _, key := range []string{"loss_ce", "loss_bbox", "loss_giou", "loss_ce_0", "loss_bbox_0", "loss_giou_0"} {
		v, ok := dict[key]
		assert.True(t, ok, key)
		assert.False(t, math.IsNaN(v), key)
	}
	assert.Greater(t, dict["loss_ce"], 0.0)

	m.SetTraining(false)
	assert.False(t, m.Training())
	dets, err := m.Inference(batch)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, int64(2), dets[1].ImageID)
	assert.Equal(t, 24, dets[1].Height)
	require.Len(t, dets[0].Instances, 5)
	for _, d := range dets[0].Instances {
		assert.True(t, d.Score > 0 && d.Score <= 1)
		assert.True(t, d.Class >= 0 && d.Class < 2)
		assert.LessOrEqual(t, d.Box[0], d.Box[2])
	}

	logits := m.Forward(constant(make([]float32, 3*16*16), tensor.Shape{1, 3, 16, 16}, m.Backend()))
	assert.Equal(t, tensor.Shape{1, 5, 3}, logits.Shape())

	_, _, err = m.Losses([]data.Sample{{ImageID: 3, Image: []float32{1}, Height: 16, Width: 16}})
	assert.ErrorContains(t, err, "has 1 values")

	_, _, err = m.Losses([]data.Sample{tinySample(4, 2, 2)})
	assert.ErrorContains(t, err, "smaller than the backbone stride")
}
