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

package storage

// Metrics is one row of the training history.
type Metrics struct {
	// RunID identifies the training run, stable across resumes of the same process.
	RunID string `csv:"runID"`

	// Iteration is the zero-based iteration the row was written after.
	Iteration int `csv:"iteration"`

	// TotalLoss is the weighted sum of the losses.
	TotalLoss float64 `csv:"totalLoss"`

	// LossCE is the classification loss of the last decoder layer.
	LossCE float64 `csv:"lossCE"`

	// LossBBox is the L1 box loss of the last decoder layer.
	LossBBox float64 `csv:"lossBBox"`

	// LossGIoU is the generalized IoU of matched boxes, reported only.
	LossGIoU float64 `csv:"lossGIoU"`

	// LR is the learning rate of the first parameter group.
	LR float64 `csv:"lr"`

	// IterTime is the median seconds per iteration over the writer window.
	IterTime float64 `csv:"iterTime"`

	// DataTime is the median seconds spent waiting for a batch.
	DataTime float64 `csv:"dataTime"`

	// CreatedAt is the row timestamp in nanoseconds.
	CreatedAt int64 `csv:"createdAt"`
}

// Evaluation is one metric of one dataset evaluation.
type Evaluation struct {
	RunID     string  `csv:"runID"`
	Iteration int     `csv:"iteration"`
	Dataset   string  `csv:"dataset"`
	Task      string  `csv:"task"`
	Metric    string  `csv:"metric"`
	Value     float64 `csv:"value"`
	CreatedAt int64   `csv:"createdAt"`
}
