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

const (
	SampleStyleChoice = "choice"
	SampleStyleRange  = "range"

	CropTypeRelativeRange = "relative_range"
	CropTypeRelative      = "relative"
	CropTypeAbsolute      = "absolute"
	CropTypeAbsoluteRange = "absolute_range"
)

// InputConfig is the INPUT section.
type InputConfig struct {
	MinSizeTrain []int `yaml:"MIN_SIZE_TRAIN" mapstructure:"MIN_SIZE_TRAIN" validate:"min=1,dive,gt=0"`

	MinSizeTrainSampling string `yaml:"MIN_SIZE_TRAIN_SAMPLING" mapstructure:"MIN_SIZE_TRAIN_SAMPLING" validate:"oneof=choice range"`

	MaxSizeTrain int `yaml:"MAX_SIZE_TRAIN" mapstructure:"MAX_SIZE_TRAIN" validate:"gt=0"`

	// MinSizeTest of 0 disables resizing at test time.
	MinSizeTest int `yaml:"MIN_SIZE_TEST" mapstructure:"MIN_SIZE_TEST" validate:"gte=0"`

	MaxSizeTest int `yaml:"MAX_SIZE_TEST" mapstructure:"MAX_SIZE_TEST" validate:"gt=0"`

	Format string `yaml:"FORMAT" mapstructure:"FORMAT" validate:"oneof=RGB BGR"`

	RandomFlip string `yaml:"RANDOM_FLIP" mapstructure:"RANDOM_FLIP" validate:"oneof=none horizontal vertical"`

	Crop CropConfig `yaml:"CROP" mapstructure:"CROP"`
}

type CropConfig struct {
	Enabled bool `yaml:"ENABLED" mapstructure:"ENABLED"`

	Type string `yaml:"TYPE" mapstructure:"TYPE" validate:"oneof=relative_range relative absolute absolute_range"`

	Size []float64 `yaml:"SIZE" mapstructure:"SIZE" validate:"len=2,dive,gt=0"`
}

// DatasetsConfig is the DATASETS section.
type DatasetsConfig struct {
	Train []string `yaml:"TRAIN" mapstructure:"TRAIN"`

	Test []string `yaml:"TEST" mapstructure:"TEST"`
}

// LoaderConfig is the DATALOADER section.
type LoaderConfig struct {
	NumWorkers int `yaml:"NUM_WORKERS" mapstructure:"NUM_WORKERS" validate:"gte=0"`

	// FilterEmptyAnnotations drops training images without any non-crowd instance.
	FilterEmptyAnnotations bool `yaml:"FILTER_EMPTY_ANNOTATIONS" mapstructure:"FILTER_EMPTY_ANNOTATIONS"`

	SamplerTrain string `yaml:"SAMPLER_TRAIN" mapstructure:"SAMPLER_TRAIN" validate:"oneof=TrainingSampler"`
}

func DefaultInputConfig() InputConfig {
	return InputConfig{
		MinSizeTrain:         []int{800},
		MinSizeTrainSampling: SampleStyleChoice,
		MaxSizeTrain:         1333,
		MinSizeTest:          800,
		MaxSizeTest:          1333,
		Format:               "BGR",
		RandomFlip:           "horizontal",
		Crop: CropConfig{
			Enabled: false,
			Type:    CropTypeRelativeRange,
			Size:    []float64{0.9, 0.9},
		},
	}
}

func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		NumWorkers:             4,
		FilterEmptyAnnotations: true,
		SamplerTrain:           "TrainingSampler",
	}
}
