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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyResults(t *testing.T) {
	results := map[string]Results{
		"aerial_valid_cars": {TaskBBox: {"AP": 38.5, "AP50": math.NaN()}},
	}

	tests := []struct {
		name     string
		expected [][]any
		results  map[string]Results
		expect   func(t *testing.T, err error)
	}{
		{
			name: "nothing expected",
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:     "within tolerance",
			expected: [][]any{{"bbox", "AP", 38.4, 0.2}},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:     "integer values are accepted",
			expected: [][]any{{"bbox", "AP", 38, 1}},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:     "outside tolerance",
			expected: [][]any{{"bbox", "AP", 40.0, 0.5}},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrVerification)
				assert.ErrorContains(t, err, "bbox/AP is 38.5000")
			},
		},
		{
			name:     "difference equal to tolerance",
			expected: [][]any{{"bbox", "AP", 38.0, 0.5}},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrVerification)
			},
		},
		{
			name:     "no results",
			expected: [][]any{{"bbox", "AP", 38.5, 0.5}},
			results:  map[string]Results{},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrVerification)
				assert.ErrorContains(t, err, "no evaluation results to verify")
			},
		},
		{
			name:    "no results and nothing expected",
			results: map[string]Results{},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:     "missing metric",
			expected: [][]any{{"bbox", "APl", 1.0, 0.1}},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrVerification)
			},
		},
		{
			name:     "non-finite metric",
			expected: [][]any{{"bbox", "AP50", 1.0, 0.1}},
			expect: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrVerification)
			},
		},
		{
			name:     "malformed entry",
			expected: [][]any{{"bbox", "AP", 1.0}},
			expect: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "has 3 fields")
				assert.NotErrorIs(t, err, ErrVerification)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTestConfig()
			cfg.ExpectedResults = tc.expected
			if tc.results == nil {
				tc.results = results
			}

			tc.expect(t, VerifyResults(cfg, tc.results))
		})
	}
}
