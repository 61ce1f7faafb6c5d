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

// Package evaluation runs a model over a test dataset and scores its detections.
package evaluation

import (
	"fmt"

	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/modeling"
)

//go:generate mockgen -destination mocks/evaluator_mock.go -source evaluator.go -package mocks

// Results maps a task, such as "bbox", to its metrics.
type Results map[string]map[string]float64

// DatasetEvaluator accumulates predictions over a dataset and scores them.
type DatasetEvaluator interface {
	// Reset clears state before a new evaluation.
	Reset()

	// Process records the model outputs for one batch of inputs.
	Process(inputs []data.Sample, outputs []modeling.Detections)

	// Evaluate scores everything processed since Reset. Processes that do not evaluate
	// return empty results.
	Evaluate() (Results, error)
}

// DatasetEvaluators runs several evaluators as one.
type DatasetEvaluators []DatasetEvaluator

func (e DatasetEvaluators) Reset() {
	for _, ev := range e {
		ev.Reset()
	}
}

func (e DatasetEvaluators) Process(inputs []data.Sample, outputs []modeling.Detections) {
	for _, ev := range e {
		ev.Process(inputs, outputs)
	}
}

// Evaluate merges the results of every evaluator. Two evaluators reporting the same task
// is an error.
func (e DatasetEvaluators) Evaluate() (Results, error) {
	merged := Results{}
	for _, ev := range e {
		res, err := ev.Evaluate()
		if err != nil {
			return nil, err
		}

		for task, metrics := range res {
			if _, ok := merged[task]; ok {
				return nil, fmt.Errorf("different evaluators produce results with the same task %s", task)
			}
			merged[task] = metrics
		}
	}

	return merged, nil
}
