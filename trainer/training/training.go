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

package training

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/catalog"
	"github.com/uavdetect/detrtrain/pkg/checkpoint"
	"github.com/uavdetect/detrtrain/pkg/comm"
	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/evaluation"
	"github.com/uavdetect/detrtrain/pkg/modeling"
	"github.com/uavdetect/detrtrain/pkg/pidfile"
	"github.com/uavdetect/detrtrain/pkg/solver"
	"github.com/uavdetect/detrtrain/pkg/workpath"
	"github.com/uavdetect/detrtrain/trainer"
	"github.com/uavdetect/detrtrain/trainer/config"
	"github.com/uavdetect/detrtrain/trainer/datasets"
	"github.com/uavdetect/detrtrain/trainer/engine"
)

// PIDFileName is created in OUTPUT_DIR by the main process while it runs.
const PIDFileName = "detrtrain.pid"

// Args are the command line arguments of a training run.
type Args = engine.Args

// Trainer is a DefaultTrainer whose evaluator, train loader and optimizer are built
// for DETR.
type Trainer struct {
	*engine.DefaultTrainer

	catalog      *catalog.Catalog
	newOptimizer solver.Constructor
	engineOpts   []engine.Option
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithOptimizerConstructor replaces solver.New when building the optimizer.
func WithOptimizerConstructor(ctor solver.Constructor) Option {
	return func(t *Trainer) {
		t.newOptimizer = ctor
	}
}

// WithEngineOptions is passed to the DefaultTrainer.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(t *Trainer) {
		t.engineOpts = append(t.engineOpts, opts...)
	}
}

func newFactory(c *catalog.Catalog, opts ...Option) *Trainer {
	t := &Trainer{catalog: c, newOptimizer: solver.New}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// NewTrainer builds the model, optimizer and hooks for cfg on the datasets of c.
func NewTrainer(cfg *config.Config, c *catalog.Catalog, opts ...Option) (*Trainer, error) {
	t := newFactory(c, opts...)
	dt, err := engine.NewDefaultTrainer(cfg, c, t, t.engineOpts...)
	if err != nil {
		return nil, err
	}

	t.DefaultTrainer = dt
	return t, nil
}

// BuildEvaluator returns a COCO evaluator writing to outputFolder, or to
// <OUTPUT_DIR>/inference when outputFolder is empty.
func (t *Trainer) BuildEvaluator(cfg *config.Config, datasetName, outputFolder string) (evaluation.DatasetEvaluator, error) {
	if outputFolder == "" {
		outputFolder = workpath.InferenceDir(cfg.OutputDir)
	}

	evaluator, err := evaluation.NewCOCOEvaluator(t.catalog, datasetName, cfg.Test, true, outputFolder)
	if err != nil {
		return nil, err
	}

	return evaluator, nil
}

// trainMapper returns the mapper of MODEL.META_ARCHITECTURE, nil meaning the loader's
// default mapper.
func trainMapper(cfg *config.Config) (data.Mapper, error) {
	kind, err := modeling.ParseArchKind(cfg.Model.MetaArchitecture)
	if err != nil {
		return nil, err
	}

	return kind.Mapper(cfg.Input, true), nil
}

// BuildTrainLoader splits SOLVER.IMS_PER_BATCH evenly across the world.
func (t *Trainer) BuildTrainLoader(ctx context.Context, cfg *config.Config) (data.Loader, error) {
	mapper, err := trainMapper(cfg)
	if err != nil {
		return nil, err
	}

	world := comm.GetWorldSize()
	if cfg.Solver.IMSPerBatch%world != 0 {
		return nil, fmt.Errorf("SOLVER.IMS_PER_BATCH (%d) must be divisible by the world size (%d)", cfg.Solver.IMSPerBatch, world)
	}

	loader, err := data.BuildDetectionTrainLoader(ctx, t.catalog, cfg.Datasets.Train, mapper, data.TrainLoaderOptions{
		Input:       cfg.Input,
		BatchSize:   cfg.Solver.IMSPerBatch / world,
		NumWorkers:  cfg.DataLoader.NumWorkers,
		FilterEmpty: cfg.DataLoader.FilterEmptyAnnotations,
		Seed:        engine.Seed(),
		Rank:        comm.GetRank(),
		WorldSize:   world,
	})
	if err != nil {
		return nil, err
	}

	return loader, nil
}

// BuildOptimizer puts every distinct trainable parameter in its own group, backbone
// parameters at BASE_LR * BACKBONE_MULTIPLIER, and wraps the optimizer with the
// configured gradient clipping.
func (t *Trainer) BuildOptimizer(cfg *config.Config, model modeling.Model) (solver.Optimizer, error) {
	return solver.Build(cfg.Solver, model.NamedParameters(), t.newOptimizer)
}

// Setup builds the frozen config of args and prepares the run.
func Setup(args *Args) (*config.Config, error) {
	cfg := config.New()
	if err := cfg.AddDetrConfig(); err != nil {
		return nil, err
	}

	if args.ConfigFile != "" {
		if err := cfg.MergeFromFile(args.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.MergeFromList(args.Opts); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Freeze()
	if err := engine.DefaultSetup(cfg, args); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Main sets up the run, registers the builtin datasets and trains, or only evaluates
// with args.EvalOnly.
func Main(ctx context.Context, args *Args) error {
	c := catalog.New()
	if err := datasets.Register(c); err != nil {
		return err
	}
	c.Seal()

	return run(ctx, args, c)
}

func run(ctx context.Context, args *Args, c *catalog.Catalog) error {
	cfg, err := Setup(args)
	if err != nil {
		return err
	}

	if comm.IsMainProcess() {
		pf, err := pidfile.New(filepath.Join(cfg.OutputDir, PIDFileName))
		if err != nil {
			return errors.Wrap(err, "lock output directory")
		}

		defer func() {
			if err := pf.Remove(); err != nil {
				logger.Warnf("remove %s failed: %v", pf.Path(), err)
			}
		}()
	}

	return trainer.New(cfg).Serve(ctx, func(ctx context.Context) error {
		if args.EvalOnly {
			return evaluate(ctx, cfg, c, args.Resume)
		}

		t, err := NewTrainer(cfg, c)
		if err != nil {
			return err
		}

		if err := t.ResumeOrLoad(args.Resume); err != nil {
			return err
		}

		return t.Train(ctx)
	})
}

// evaluate loads MODEL.WEIGHTS, or the last checkpoint when resuming, and tests it.
func evaluate(ctx context.Context, cfg *config.Config, c *catalog.Catalog, resume bool) error {
	model, err := engine.BuildModel(cfg)
	if err != nil {
		return err
	}

	ck := checkpoint.NewDetectionCheckpointer(model, cfg.OutputDir, checkpoint.WithSaveToDisk(comm.IsMainProcess()))
	if _, err := ck.ResumeOrLoad(cfg.Model.Weights, resume); err != nil {
		return err
	}

	results, err := engine.Test(ctx, cfg, c, newFactory(c), model, nil)
	if err != nil {
		return err
	}

	if comm.IsMainProcess() {
		return evaluation.VerifyResults(cfg.Test, results)
	}

	return nil
}
