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
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
)

// ErrVerification is returned when evaluation results miss their expected values.
var ErrVerification = errors.New("result verification failed")

// TestConfig is the TEST section.
type TestConfig struct {
	// EvalPeriod runs evaluation every EvalPeriod iterations during training. Zero
	// evaluates only at the end.
	EvalPeriod int `yaml:"EVAL_PERIOD" mapstructure:"EVAL_PERIOD" validate:"gte=0"`

	// ExpectedResults holds [task, metric, expected, tolerance] entries.
	ExpectedResults [][]any `yaml:"EXPECTED_RESULTS" mapstructure:"EXPECTED_RESULTS"`

	DetectionsPerImage int `yaml:"DETECTIONS_PER_IMAGE" mapstructure:"DETECTIONS_PER_IMAGE" validate:"gt=0"`
}

func DefaultTestConfig() TestConfig {
	return TestConfig{
		EvalPeriod:         0,
		ExpectedResults:    [][]any{},
		DetectionsPerImage: 100,
	}
}

// ExpectedResult is one parsed TEST.EXPECTED_RESULTS entry.
type ExpectedResult struct {
	Task      string
	Metric    string
	Expected  float64
	Tolerance float64
}

// ParseExpectedResults checks the shape of every entry.
func ParseExpectedResults(raw [][]any) ([]ExpectedResult, error) {
	out := make([]ExpectedResult, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 4 {
			return nil, fmt.Errorf("expected result %d has %d fields, want [task, metric, expected, tolerance]", i, len(entry))
		}

		task, ok1 := entry[0].(string)
		metric, ok2 := entry[1].(string)
		expected, ok3 := toFloat(entry[2])
		tolerance, ok4 := toFloat(entry[3])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, fmt.Errorf("expected result %d is malformed: %v", i, entry)
		}

		out = append(out, ExpectedResult{Task: task, Metric: metric, Expected: expected, Tolerance: tolerance})
	}

	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// VerifyResults checks every dataset's results against cfg.ExpectedResults. A missing or
// non-finite metric, one not strictly within its tolerance, or no results at all fails
// with ErrVerification.
func VerifyResults(cfg TestConfig, results map[string]Results) error {
	expected, err := ParseExpectedResults(cfg.ExpectedResults)
	if err != nil {
		return err
	}

	if len(expected) == 0 {
		return nil
	}

	if len(results) == 0 {
		logger.EvalLogger.Errorf("result verification failed: no evaluation results to verify")
		return fmt.Errorf("%w: no evaluation results to verify", ErrVerification)
	}

	datasets := make([]string, 0, len(results))
	for name := range results {
		datasets = append(datasets, name)
	}
	sort.Strings(datasets)

	var merr *multierror.Error
	for _, name := range datasets {
		for _, want := range expected {
			actual, ok := results[name][want.Task][want.Metric]
			switch {
			case !ok:
				merr = multierror.Append(merr, fmt.Errorf("%s: %s/%s missing", name, want.Task, want.Metric))
			case math.IsNaN(actual) || math.IsInf(actual, 0):
				merr = multierror.Append(merr, fmt.Errorf("%s: %s/%s is %v", name, want.Task, want.Metric, actual))
			case !(math.Abs(actual-want.Expected) < want.Tolerance):
				merr = multierror.Append(merr, fmt.Errorf("%s: %s/%s is %.4f, expected %.4f within %.4f",
					name, want.Task, want.Metric, actual, want.Expected, want.Tolerance))
			}
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		logger.EvalLogger.Errorf("result verification failed: %v", err)
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}

	logger.EvalLogger.Infof("results verification passed")
	return nil
}
