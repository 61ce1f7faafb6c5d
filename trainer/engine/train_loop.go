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
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/born-ml/born/autodiff"
	pkgerrors "github.com/pkg/errors"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/modeling"
	"github.com/uavdetect/detrtrain/pkg/solver"
)

// ErrNonFiniteLoss is returned when the total loss becomes NaN or infinite.
var ErrNonFiniteLoss = errors.New("loss became infinite or NaN")

// Hook is called by the training loop. Every method may stop training by returning an
// error. AfterTrain runs even when the loop fails.
type Hook interface {
	BeforeTrain(ctx context.Context, t *TrainerBase) error
	BeforeStep(ctx context.Context, t *TrainerBase) error
	AfterStep(ctx context.Context, t *TrainerBase) error
	AfterTrain(ctx context.Context, t *TrainerBase) error
}

// HookBase implements every Hook method as a no-op.
type HookBase struct{}

func (HookBase) BeforeTrain(context.Context, *TrainerBase) error { return nil }
func (HookBase) BeforeStep(context.Context, *TrainerBase) error  { return nil }
func (HookBase) AfterStep(context.Context, *TrainerBase) error   { return nil }
func (HookBase) AfterTrain(context.Context, *TrainerBase) error  { return nil }

// TrainerBase runs a step function over [startIter, maxIter) with hooks around it.
// After a successful run Iter equals MaxIter.
type TrainerBase struct {
	iter      int
	startIter int
	maxIter   int
	storage   *EventStorage
	hooks     []Hook
}

// RegisterHooks appends hooks, skipping nil ones. Hooks run in registration order.
func (t *TrainerBase) RegisterHooks(hooks ...Hook) {
	for _, h := range hooks {
		if h != nil {
			t.hooks = append(t.hooks, h)
		}
	}
}

func (t *TrainerBase) Iter() int {
	return t.iter
}

func (t *TrainerBase) StartIter() int {
	return t.startIter
}

func (t *TrainerBase) MaxIter() int {
	return t.maxIter
}

func (t *TrainerBase) Storage() *EventStorage {
	return t.storage
}

// Run executes step once per iteration.
func (t *TrainerBase) Run(ctx context.Context, startIter, maxIter int, step func(context.Context) error) (err error) {
	logger.TrainLogger.Infof("starting training from iteration %d", startIter)
	t.iter, t.startIter, t.maxIter = startIter, startIter, maxIter
	if t.storage == nil {
		t.storage = NewEventStorage(startIter)
	}
	t.storage.SetIter(startIter)

	defer func() {
		for _, h := range t.hooks {
			if herr := h.AfterTrain(ctx, t); herr != nil && err == nil {
				err = herr
			}
		}
	}()

	for _, h := range t.hooks {
		if err := h.BeforeTrain(ctx, t); err != nil {
			return err
		}
	}

	for ; t.iter < maxIter; t.iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.storage.SetIter(t.iter)
		for _, h := range t.hooks {
			if err := h.BeforeStep(ctx, t); err != nil {
				return err
			}
		}

		if err := step(ctx); err != nil {
			logger.TrainLogger.Errorf("training failed at iteration %d: %v", t.iter, err)
			return err
		}

		for _, h := range t.hooks {
			if err := h.AfterStep(ctx, t); err != nil {
				return err
			}
		}
	}

	return nil
}

// SimpleTrainer runs one forward, backward and optimizer update per iteration.
type SimpleTrainer struct {
	TrainerBase

	model     modeling.Model
	loader    data.Loader
	optimizer solver.Optimizer
}

// NewSimpleTrainer puts model in training mode.
func NewSimpleTrainer(model modeling.Model, loader data.Loader, optimizer solver.Optimizer) *SimpleTrainer {
	model.SetTraining(true)
	return &SimpleTrainer{
		model:     model,
		loader:    loader,
		optimizer: optimizer,
	}
}

func (t *SimpleTrainer) Model() modeling.Model {
	return t.model
}

func (t *SimpleTrainer) Optimizer() solver.Optimizer {
	return t.optimizer
}

// Train runs [startIter, maxIter).
func (t *SimpleTrainer) Train(ctx context.Context, startIter, maxIter int) error {
	if t.loader == nil {
		return errors.New("no train loader")
	}

	return t.Run(ctx, startIter, maxIter, t.RunStep)
}

// RunStep reads a batch, records the loss on the backend tape, back-propagates it and
// updates the parameters.
func (t *SimpleTrainer) RunStep(ctx context.Context) error {
	start := time.Now()
	batch, err := t.loader.Next(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "read train batch")
	}
	dataTime := time.Since(start)

	b := t.model.Backend()
	tape := b.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	total, losses, err := t.model.Losses(batch)
	if err != nil {
		return pkgerrors.Wrapf(err, "losses of iteration %d", t.iter)
	}

	totalLoss := float64(total.Data()[0])
	if math.IsNaN(totalLoss) || math.IsInf(totalLoss, 0) {
		return fmt.Errorf("%w at iteration %d, losses: %v", ErrNonFiniteLoss, t.iter, losses)
	}

	if tape.NumOps() == 0 {
		return errors.New("no operations recorded for the loss")
	}

	grads := autodiff.Backward(total, b)
	t.optimizer.ZeroGrad()
	t.optimizer.Step(grads)

	scalars := make(map[string]float64, len(losses)+2)
	for name, v := range losses {
		scalars[name] = v
	}
	scalars[scalarTotalLoss] = totalLoss
	scalars[scalarDataTime] = dataTime.Seconds()
	t.storage.PutScalars(scalars)
	return nil
}
