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

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/checkpoint"
	"github.com/uavdetect/detrtrain/pkg/evaluation"
	"github.com/uavdetect/detrtrain/pkg/solver"
	"github.com/uavdetect/detrtrain/trainer/metrics"
)

// IterationTimer records the duration of every step as the "time" scalar and logs the
// overall speed when training ends.
type IterationTimer struct {
	HookBase
	trainStart time.Time
	stepStart  time.Time
}

func NewIterationTimer() *IterationTimer {
	return &IterationTimer{}
}

func (h *IterationTimer) BeforeTrain(ctx context.Context, t *TrainerBase) error {
	h.trainStart = time.Now()
	return nil
}

func (h *IterationTimer) BeforeStep(ctx context.Context, t *TrainerBase) error {
	h.stepStart = time.Now()
	return nil
}

func (h *IterationTimer) AfterStep(ctx context.Context, t *TrainerBase) error {
	d := time.Since(h.stepStart)
	t.Storage().PutScalar(scalarTime, d.Seconds())
	metrics.IterationCount.Inc()
	metrics.IterationDuration.Observe(d.Seconds())
	return nil
}

func (h *IterationTimer) AfterTrain(ctx context.Context, t *TrainerBase) error {
	total := time.Since(h.trainStart)
	n := t.Iter() - t.StartIter()
	if n <= 0 {
		logger.TrainLogger.Infof("total training time: %s", total.Round(time.Second))
		return nil
	}

	logger.TrainLogger.Infof("overall training speed: %d iterations in %s (%.4f s / it)",
		n, total.Round(time.Second), total.Seconds()/float64(n))
	return nil
}

// LRScheduler steps the learning rate schedule after every iteration and records the
// learning rate as the "lr" scalar.
type LRScheduler struct {
	HookBase
	scheduler *solver.WarmupMultiStepLR
	groups    []*solver.ParamGroup
	best      int
}

func NewLRScheduler(scheduler *solver.WarmupMultiStepLR, groups []*solver.ParamGroup) *LRScheduler {
	return &LRScheduler{scheduler: scheduler, groups: groups, best: bestParamGroup(groups)}
}

// bestParamGroup picks the group whose LR is reported: the largest group, or with
// singleton groups the first group having the most common initial LR.
func bestParamGroup(groups []*solver.ParamGroup) int {
	largest, singleton := 0, true
	for i, g := range groups {
		if len(g.Params) > 1 {
			singleton = false
		}
		if len(g.Params) > len(groups[largest].Params) {
			largest = i
		}
	}

	if !singleton {
		return largest
	}

	counts := map[float64]int{}
	for _, g := range groups {
		counts[g.InitialLR]++
	}

	best := 0
	for i, g := range groups {
		if counts[g.InitialLR] > counts[groups[best].InitialLR] {
			best = i
		}
	}

	return best
}

// BeforeTrain aligns the schedule with the first iteration, which differs from zero
// after a resume.
func (h *LRScheduler) BeforeTrain(ctx context.Context, t *TrainerBase) error {
	h.scheduler.Step(t.Iter())
	return nil
}

func (h *LRScheduler) AfterStep(ctx context.Context, t *TrainerBase) error {
	if h.best < len(h.groups) {
		t.Storage().PutScalar(scalarLR, h.groups[h.best].LR)
	}

	h.scheduler.Step(t.Iter() + 1)
	return nil
}

// PeriodicCheckpointer saves checkpoints on the main process.
type PeriodicCheckpointer struct {
	HookBase
	checkpointer *checkpoint.PeriodicCheckpointer
}

func NewPeriodicCheckpointer(c *checkpoint.PeriodicCheckpointer) *PeriodicCheckpointer {
	return &PeriodicCheckpointer{checkpointer: c}
}

func (h *PeriodicCheckpointer) AfterStep(ctx context.Context, t *TrainerBase) error {
	return h.checkpointer.Step(t.Iter())
}

// EvalFunc evaluates the current model on every test dataset.
type EvalFunc func(ctx context.Context) (map[string]evaluation.Results, error)

// EvalHook evaluates every period iterations and after the last iteration. A zero
// period only evaluates at the end.
type EvalHook struct {
	HookBase
	period int
	eval   EvalFunc
}

func NewEvalHook(period int, eval EvalFunc) *EvalHook {
	return &EvalHook{period: period, eval: eval}
}

func (h *EvalHook) AfterStep(ctx context.Context, t *TrainerBase) error {
	next := t.Iter() + 1
	if h.period > 0 && next%h.period == 0 && next != t.MaxIter() {
		return h.doEval(ctx, t)
	}

	return nil
}

// AfterTrain evaluates only when the loop reached MaxIter.
func (h *EvalHook) AfterTrain(ctx context.Context, t *TrainerBase) error {
	if t.Iter() < t.MaxIter() {
		return nil
	}

	return h.doEval(ctx, t)
}

func (h *EvalHook) doEval(ctx context.Context, t *TrainerBase) error {
	results, err := h.eval(ctx)
	if err != nil {
		return err
	}

	t.Storage().PutScalars(flattenResults(results))
	return nil
}

// flattenResults keys every metric as "<dataset>/<task>/<metric>".
func flattenResults(results map[string]evaluation.Results) map[string]float64 {
	flat := map[string]float64{}
	for dataset, res := range results {
		for task, m := range res {
			for metric, v := range m {
				flat[fmt.Sprintf("%s/%s/%s", dataset, task, metric)] = v
			}
		}
	}

	return flat
}

// PeriodicWriter runs the writers every period iterations, after the last iteration
// and when training ends.
type PeriodicWriter struct {
	HookBase
	writers []EventWriter
	period  int
}

func NewPeriodicWriter(writers []EventWriter, period int) *PeriodicWriter {
	return &PeriodicWriter{writers: writers, period: period}
}

func (h *PeriodicWriter) AfterStep(ctx context.Context, t *TrainerBase) error {
	iter := t.Iter()
	if (h.period > 0 && (iter+1)%h.period == 0) || iter == t.MaxIter()-1 {
		return h.write(t)
	}

	return nil
}

func (h *PeriodicWriter) AfterTrain(ctx context.Context, t *TrainerBase) error {
	var errs *multierror.Error
	if err := h.write(t); err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, w := range h.writers {
		if err := w.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

func (h *PeriodicWriter) write(t *TrainerBase) error {
	var errs *multierror.Error
	for _, w := range h.writers {
		if err := w.Write(t.Storage()); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

// sortedMetrics orders the COCO summary metrics first and the rest by name.
func sortedMetrics(m map[string]float64) []string {
	rank := map[string]int{"AP": 0, "AP50": 1, "AP75": 2, "APs": 3, "APm": 4, "APl": 5}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		ri, iok := rank[names[i]]
		rj, jok := rank[names[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})

	return names
}
