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

package solver

const (
	ClipTypeValue     = "value"
	ClipTypeNorm      = "norm"
	ClipTypeFullModel = "full_model"

	WarmupLinear   = "linear"
	WarmupConstant = "constant"
)

// Config is the SOLVER section.
type Config struct {
	// IMSPerBatch is the total batch size across all workers.
	IMSPerBatch int `yaml:"IMS_PER_BATCH" mapstructure:"IMS_PER_BATCH" validate:"gt=0"`

	BaseLR float64 `yaml:"BASE_LR" mapstructure:"BASE_LR" validate:"gt=0"`

	Momentum float64 `yaml:"MOMENTUM" mapstructure:"MOMENTUM" validate:"gte=0"`

	WeightDecay float64 `yaml:"WEIGHT_DECAY" mapstructure:"WEIGHT_DECAY" validate:"gte=0"`

	// BackboneMultiplier scales the learning rate of every parameter whose name
	// contains "backbone".
	BackboneMultiplier float64 `yaml:"BACKBONE_MULTIPLIER" mapstructure:"BACKBONE_MULTIPLIER" validate:"gte=0"`

	// Optimizer is checked when the optimizer is built, not at validation.
	Optimizer string `yaml:"OPTIMIZER" mapstructure:"OPTIMIZER"`

	MaxIter int `yaml:"MAX_ITER" mapstructure:"MAX_ITER" validate:"gt=0"`

	Steps []int `yaml:"STEPS" mapstructure:"STEPS" validate:"dive,gt=0"`

	Gamma float64 `yaml:"GAMMA" mapstructure:"GAMMA" validate:"gt=0"`

	WarmupFactor float64 `yaml:"WARMUP_FACTOR" mapstructure:"WARMUP_FACTOR" validate:"gte=0,lte=1"`

	WarmupIters int `yaml:"WARMUP_ITERS" mapstructure:"WARMUP_ITERS" validate:"gte=0"`

	WarmupMethod string `yaml:"WARMUP_METHOD" mapstructure:"WARMUP_METHOD" validate:"oneof=linear constant"`

	CheckpointPeriod int `yaml:"CHECKPOINT_PERIOD" mapstructure:"CHECKPOINT_PERIOD" validate:"gt=0"`

	ClipGradients ClipConfig `yaml:"CLIP_GRADIENTS" mapstructure:"CLIP_GRADIENTS"`
}

// ClipConfig is SOLVER.CLIP_GRADIENTS.
type ClipConfig struct {
	Enabled bool `yaml:"ENABLED" mapstructure:"ENABLED"`

	ClipType string `yaml:"CLIP_TYPE" mapstructure:"CLIP_TYPE" validate:"oneof=value norm full_model"`

	// ClipValue is the element bound for "value" and the norm bound otherwise.
	ClipValue float64 `yaml:"CLIP_VALUE" mapstructure:"CLIP_VALUE"`

	NormType float64 `yaml:"NORM_TYPE" mapstructure:"NORM_TYPE" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		IMSPerBatch:        16,
		BaseLR:             0.001,
		Momentum:           0.9,
		WeightDecay:        0.0001,
		BackboneMultiplier: 1.0,
		Optimizer:          "SGD",
		MaxIter:            40000,
		Steps:              []int{30000},
		Gamma:              0.1,
		WarmupFactor:       1.0 / 1000,
		WarmupIters:        1000,
		WarmupMethod:       WarmupLinear,
		CheckpointPeriod:   5000,
		ClipGradients: ClipConfig{
			Enabled:   false,
			ClipType:  ClipTypeValue,
			ClipValue: 1.0,
			NormType:  2.0,
		},
	}
}
