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

// Package modelingtest provides small models and samples for tests.
package modelingtest

import (
	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/modeling"
)

// Config returns a Detr config small enough to train for a few iterations in tests.
func Config() modeling.Config {
	cfg := modeling.DefaultConfig()
	cfg.Backbone = modeling.BackboneConfig{FreezeAt: 1, Channels: []int{4, 8}}
	cfg.Detr = modeling.DefaultDetrConfig()
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

// NewDetr builds a model from Config on a fresh backend.
func NewDetr() *modeling.Detr {
	m, err := modeling.NewDetr(Config(), modeling.NewBackend())
	if err != nil {
		panic(err)
	}

	m.SetSeed(1)
	return m
}

// Sample returns an h x w image with one box of class 1.
func Sample(id int64, h, w int) data.Sample {
	img := make([]float32, 3*h*w)
	for i := range img {
		img[i] = float32(i % 255)
	}

	return data.Sample{
		ImageID:    id,
		Image:      img,
		Height:     h,
		Width:      w,
		OrigHeight: h,
		OrigWidth:  w,
		Instances:  []data.Instance{{Box: [4]float64{2, 2, 10, 8}, Class: 1}},
	}
}
