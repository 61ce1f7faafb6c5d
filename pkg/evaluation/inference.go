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

package evaluation

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/modeling"
)

// Predictor is the part of a model inference needs.
type Predictor interface {
	Inference(batch []data.Sample) ([]modeling.Detections, error)
	SetTraining(training bool)
	Training() bool
}

// TestDataLoader yields test batches until io.EOF.
type TestDataLoader interface {
	Len() int
	Next(ctx context.Context) ([]data.Sample, error)
}

type inferenceOptions struct {
	progress io.Writer
}

type InferenceOption func(*inferenceOptions)

// WithProgressWriter sends the progress bar to w instead of stderr.
func WithProgressWriter(w io.Writer) InferenceOption {
	return func(o *inferenceOptions) {
		o.progress = w
	}
}

// InferenceOnDataset runs model in evaluation mode over every batch of loader, feeding
// evaluator, and returns its results. The model's training mode is restored afterwards.
func InferenceOnDataset(ctx context.Context, model Predictor, loader TestDataLoader, evaluator DatasetEvaluator, opts ...InferenceOption) (Results, error) {
	o := inferenceOptions{progress: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	total := loader.Len()
	logger.EvalLogger.Infof("start inference on %d batches", total)

	wasTraining := model.Training()
	model.SetTraining(false)
	defer model.SetTraining(wasTraining)

	evaluator.Reset()
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(o.progress),
		progressbar.OptionSetDescription("inference"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("img"),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	start := time.Now()
	var computeTime time.Duration
	var n int
	for {
		batch, err := loader.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read test batch")
		}

		computeStart := time.Now()
		outputs, err := model.Inference(batch)
		if err != nil {
			return nil, errors.Wrap(err, "inference")
		}
		computeTime += time.Since(computeStart)

		evaluator.Process(batch, outputs)
		n += len(batch)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	elapsed := time.Since(start)
	perImage := time.Duration(0)
	if n > 0 {
		perImage = elapsed / time.Duration(n)
	}
	logger.EvalLogger.Infof("total inference time: %s (%s / img), pure compute time: %s, %s images",
		elapsed.Round(time.Millisecond), perImage, computeTime.Round(time.Millisecond), humanize.Comma(int64(n)))

	return evaluator.Evaluate()
}
