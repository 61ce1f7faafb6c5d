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

// Config is the MODEL section.
type Config struct {
	MetaArchitecture string `yaml:"META_ARCHITECTURE" mapstructure:"META_ARCHITECTURE" validate:"required"`

	// Weights is a checkpoint to initialize from. Empty means random initialization.
	Weights string `yaml:"WEIGHTS" mapstructure:"WEIGHTS"`

	Device string `yaml:"DEVICE" mapstructure:"DEVICE" validate:"oneof=cpu"`

	PixelMean []float64 `yaml:"PIXEL_MEAN" mapstructure:"PIXEL_MEAN" validate:"len=3"`

	PixelStd []float64 `yaml:"PIXEL_STD" mapstructure:"PIXEL_STD" validate:"len=3,dive,gt=0"`

	MaskOn bool `yaml:"MASK_ON" mapstructure:"MASK_ON"`

	Backbone BackboneConfig `yaml:"BACKBONE" mapstructure:"BACKBONE"`

	Detr DetrConfig `yaml:"DETR" mapstructure:"DETR"`
}

type BackboneConfig struct {
	// FreezeAt is the number of leading backbone stages whose parameters are not trained.
	FreezeAt int `yaml:"FREEZE_AT" mapstructure:"FREEZE_AT" validate:"gte=0"`

	// Channels lists the output width of each convolution stage.
	Channels []int `yaml:"CHANNELS" mapstructure:"CHANNELS" validate:"min=1,dive,gt=0"`
}

type DetrConfig struct {
	NumClasses int `yaml:"NUM_CLASSES" mapstructure:"NUM_CLASSES" validate:"gt=0"`

	FrozenWeights string `yaml:"FROZEN_WEIGHTS" mapstructure:"FROZEN_WEIGHTS"`

	GIoUWeight float64 `yaml:"GIOU_WEIGHT" mapstructure:"GIOU_WEIGHT" validate:"gte=0"`

	L1Weight float64 `yaml:"L1_WEIGHT" mapstructure:"L1_WEIGHT" validate:"gte=0"`

	// DeepSupervision adds a loss on every decoder layer output.
	DeepSupervision bool `yaml:"DEEP_SUPERVISION" mapstructure:"DEEP_SUPERVISION"`

	// NoObjectWeight is the classification weight of the "no object" class.
	NoObjectWeight float64 `yaml:"NO_OBJECT_WEIGHT" mapstructure:"NO_OBJECT_WEIGHT" validate:"gte=0"`

	NHeads int `yaml:"NHEADS" mapstructure:"NHEADS" validate:"gt=0"`

	Dropout float64 `yaml:"DROPOUT" mapstructure:"DROPOUT" validate:"gte=0,lt=1"`

	DimFeedforward int `yaml:"DIM_FEEDFORWARD" mapstructure:"DIM_FEEDFORWARD" validate:"gt=0"`

	EncLayers int `yaml:"ENC_LAYERS" mapstructure:"ENC_LAYERS" validate:"gte=0"`

	DecLayers int `yaml:"DEC_LAYERS" mapstructure:"DEC_LAYERS" validate:"gt=0"`

	PreNorm bool `yaml:"PRE_NORM" mapstructure:"PRE_NORM"`

	HiddenDim int `yaml:"HIDDEN_DIM" mapstructure:"HIDDEN_DIM" validate:"gt=0"`

	NumObjectQueries int `yaml:"NUM_OBJECT_QUERIES" mapstructure:"NUM_OBJECT_QUERIES" validate:"gt=0"`
}

// DefaultDetrConfig returns the defaults of the DETR reference configuration.
func DefaultDetrConfig() DetrConfig {
	return DetrConfig{
		NumClasses:       80,
		GIoUWeight:       2.0,
		L1Weight:         5.0,
		DeepSupervision:  true,
		NoObjectWeight:   0.1,
		NHeads:           8,
		Dropout:          0.1,
		DimFeedforward:   2048,
		EncLayers:        6,
		DecLayers:        6,
		PreNorm:          false,
		HiddenDim:        256,
		NumObjectQueries: 100,
	}
}

// DefaultConfig returns the MODEL defaults without the DETR extension applied.
func DefaultConfig() Config {
	return Config{
		MetaArchitecture: "Detr",
		Device:           "cpu",
		PixelMean:        []float64{103.530, 116.280, 123.675},
		PixelStd:         []float64{57.375, 57.120, 58.395},
		Backbone: BackboneConfig{
			FreezeAt: 2,
			Channels: []int{32, 64, 128, 256, 512},
		},
	}
}
