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

//go:generate mockgen -destination mocks/factory_mock.go -source defaults.go -package mocks

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/catalog"
	"github.com/uavdetect/detrtrain/pkg/checkpoint"
	"github.com/uavdetect/detrtrain/pkg/comm"
	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/evaluation"
	"github.com/uavdetect/detrtrain/pkg/modeling"
	"github.com/uavdetect/detrtrain/pkg/solver"
	"github.com/uavdetect/detrtrain/pkg/workpath"
	"github.com/uavdetect/detrtrain/trainer/config"
	"github.com/uavdetect/detrtrain/trainer/metrics"
	"github.com/uavdetect/detrtrain/trainer/storage"
	"github.com/uavdetect/detrtrain/version"
)

// DefaultWriterPeriod is the number of iterations between two metric writes.
const DefaultWriterPeriod = 20

// ErrNotImplemented is returned by a Factory that does not build an evaluator.
// Test skips such datasets.
var ErrNotImplemented = errors.New("not implemented")

// Args are the command line arguments of a training run.
type Args struct {
	ConfigFile  string
	NumGPUs     int
	NumMachines int
	MachineRank int
	DistURL     string
	EvalOnly    bool
	Resume      bool

	// Opts are KEY VALUE config overrides.
	Opts []string

	Console bool
	Verbose bool
	LogDir  string
}

// seed is the seed chosen by DefaultSetup.
var seed = atomic.NewInt64(0)

// Seed returns the seed of this process, as chosen by DefaultSetup.
func Seed() int64 {
	return seed.Load()
}

// DefaultSetup creates the output directories, initializes logging, logs the
// environment, dumps the config on the main process and picks the seed. A negative
// SEED is replaced by one derived from time and pid, otherwise SEED + rank is used.
func DefaultSetup(cfg *config.Config, args *Args) error {
	var opts []workpath.Option
	if args.LogDir != "" {
		opts = append(opts, workpath.WithLogDir(args.LogDir))
	}

	wp, err := workpath.New(cfg.OutputDir, opts...)
	if err != nil {
		return pkgerrors.Wrap(err, "create output directories")
	}

	rank, world := comm.GetRank(), comm.GetWorldSize()
	logDir := wp.LogDir()
	if rank > 0 {
		logDir = filepath.Join(logDir, fmt.Sprintf("rank%d", rank))
	}

	if err := logger.InitTrainer(args.Verbose, args.Console, logDir, cfg.Log); err != nil {
		return pkgerrors.Wrap(err, "init logger")
	}

	if !comm.IsMainProcess() {
		logger.SetLevel(zapcore.WarnLevel)
	}

	log := logger.WithRank(rank, world)
	log.Infof("rank of current process: %d, world size: %d", rank, world)
	log.Infof("environment info: %s", environmentInfo())
	log.Infof("command line arguments: %+v", *args)
	if args.ConfigFile != "" {
		if b, err := os.ReadFile(args.ConfigFile); err == nil {
			log.Debugf("contents of %s:\n%s", args.ConfigFile, b)
		}
	}

	if comm.IsMainProcess() {
		if err := dumpConfig(cfg, wp.ConfigDumpPath()); err != nil {
			return err
		}
		logger.TrainLogger.Infof("running with full config:\n%s", cfg.String())
		log.Infof("full config saved to %s", wp.ConfigDumpPath())
	}

	s := cfg.Seed
	if s < 0 {
		s = time.Now().UnixNano() ^ int64(os.Getpid())<<16
	} else {
		s += int64(rank)
	}
	seed.Store(s)
	log.Infof("using seed %d", s)
	return nil
}

func dumpConfig(cfg *config.Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return cfg.Dump(f)
}

// environmentInfo describes the host, best effort.
func environmentInfo() string {
	fields := []string{
		"version=" + version.GitVersion,
		"go=" + runtime.Version(),
		"platform=" + version.Platform,
	}

	if info, err := host.Info(); err == nil {
		fields = append(fields, "host="+info.Hostname, "os="+info.Platform+" "+info.PlatformVersion, "kernel="+info.KernelVersion)
	}

	if n, err := cpu.Counts(true); err == nil {
		fields = append(fields, fmt.Sprintf("cpus=%d", n))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, "memory="+humanize.IBytes(vm.Total), "available="+humanize.IBytes(vm.Available))
	}

	return strings.Join(fields, " ")
}

// Factory builds the components a DefaultTrainer customizes.
type Factory interface {
	// BuildEvaluator returns the evaluator of a test dataset. An empty outputFolder
	// selects <OUTPUT_DIR>/inference.
	BuildEvaluator(cfg *config.Config, datasetName, outputFolder string) (evaluation.DatasetEvaluator, error)

	// BuildTrainLoader returns the training batches. Its workers stop with ctx.
	BuildTrainLoader(ctx context.Context, cfg *config.Config) (data.Loader, error)

	// BuildOptimizer returns the optimizer of model.
	BuildOptimizer(cfg *config.Config, model modeling.Model) (solver.Optimizer, error)
}

// BuildModel builds MODEL.META_ARCHITECTURE on a fresh backend and seeds it.
func BuildModel(cfg *config.Config) (modeling.Model, error) {
	model, err := modeling.BuildModel(cfg.Model, modeling.NewBackend())
	if err != nil {
		return nil, err
	}

	if m, ok := model.(interface{ SetSeed(int64) }); ok {
		m.SetSeed(Seed())
	}

	var n int
	for _, p := range model.Parameters() {
		n += p.Tensor().NumElements()
	}
	logger.Infof("model %s built with %s parameters", cfg.Model.MetaArchitecture, humanize.Comma(int64(n)))
	return model, nil
}

// Test evaluates model on every DATASETS.TEST dataset. evaluators, when given, are used
// in dataset order instead of the ones factory builds.
func Test(ctx context.Context, cfg *config.Config, c *catalog.Catalog, factory Factory, model modeling.Model,
	evaluators []evaluation.DatasetEvaluator, opts ...evaluation.InferenceOption) (map[string]evaluation.Results, error) {
	if evaluators != nil && len(evaluators) != len(cfg.Datasets.Test) {
		return nil, fmt.Errorf("%d evaluators given for %d test datasets", len(evaluators), len(cfg.Datasets.Test))
	}

	tape := model.Backend().Tape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	results := make(map[string]evaluation.Results, len(cfg.Datasets.Test))
	for i, name := range cfg.Datasets.Test {
		log := logger.WithDataset(name)
		loader, err := data.BuildDetectionTestLoader(c, name, nil, cfg.Input)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "build test loader for %s", name)
		}

		var evaluator evaluation.DatasetEvaluator
		if evaluators != nil {
			evaluator = evaluators[i]
		} else {
			evaluator, err = factory.BuildEvaluator(cfg, name, "")
			if errors.Is(err, ErrNotImplemented) {
				log.Warnf("no evaluator found, skipping %s", name)
				results[name] = evaluation.Results{}
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		metrics.EvaluateCount.WithLabelValues(name).Inc()
		res, err := evaluation.InferenceOnDataset(ctx, model, loader, evaluator, opts...)
		loader.Close()
		if err != nil {
			metrics.EvaluateFailureCount.WithLabelValues(name).Inc()
			return nil, pkgerrors.Wrapf(err, "evaluate %s", name)
		}

		results[name] = res
		if comm.IsMainProcess() {
			log.Infof("evaluation results for %s in csv format:", name)
			printCSVFormat(log, res)
		}
	}

	return results, nil
}

// printCSVFormat logs results in a form that can be pasted into a spreadsheet.
func printCSVFormat(log *logger.SugaredLoggerOnWith, results evaluation.Results) {
	tasks := make(map[string]float64, len(results))
	for task := range results {
		tasks[task] = 0
	}

	for _, task := range sortedMetrics(tasks) {
		names := sortedMetrics(results[task])
		values := make([]string, len(names))
		for i, name := range names {
			values[i] = fmt.Sprintf("%.4f", results[task][name])
		}

		log.Infof("copypaste: Task: %s", task)
		log.Infof("copypaste: %s", strings.Join(names, ","))
		log.Infof("copypaste: %s", strings.Join(values, ","))
	}
}

// Option configures a DefaultTrainer.
type Option func(*DefaultTrainer)

// WithInferenceOptions is passed to every evaluation.
func WithInferenceOptions(opts ...evaluation.InferenceOption) Option {
	return func(t *DefaultTrainer) {
		t.inferenceOpts = append(t.inferenceOpts, opts...)
	}
}

// WithWriterPeriod sets the iterations between two metric writes.
func WithWriterPeriod(period int) Option {
	return func(t *DefaultTrainer) {
		t.writerPeriod = period
	}
}

// DefaultTrainer trains the model of cfg with the hooks every run uses: iteration
// timing, LR scheduling, checkpoints, evaluation and metric writers.
type DefaultTrainer struct {
	*SimpleTrainer

	cfg          *config.Config
	catalog      *catalog.Catalog
	factory      Factory
	scheduler    *solver.WarmupMultiStepLR
	checkpointer *checkpoint.DetectionCheckpointer
	history      storage.Storage
	runID        string
	firstIter    int
	writerPeriod int

	inferenceOpts   []evaluation.InferenceOption
	lastEvalResults map[string]evaluation.Results
}

// NewDefaultTrainer builds the model and, through factory, the optimizer.
func NewDefaultTrainer(cfg *config.Config, c *catalog.Catalog, factory Factory, opts ...Option) (*DefaultTrainer, error) {
	model, err := BuildModel(cfg)
	if err != nil {
		return nil, err
	}

	optimizer, err := factory.BuildOptimizer(cfg, model)
	if err != nil {
		return nil, err
	}

	t := &DefaultTrainer{
		SimpleTrainer: NewSimpleTrainer(model, nil, optimizer),
		cfg:           cfg,
		catalog:       c,
		factory:       factory,
		scheduler:     solver.NewWarmupMultiStepLR(optimizer, cfg.Solver),
		history:       storage.New(cfg.OutputDir),
		runID:         uuid.NewString(),
		writerPeriod:  DefaultWriterPeriod,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.checkpointer = checkpoint.NewDetectionCheckpointer(model, cfg.OutputDir,
		checkpoint.WithCheckpointable("optimizer", optimizer),
		checkpoint.WithSaveToDisk(comm.IsMainProcess()),
		checkpoint.WithRunID(t.runID),
	)

	t.maxIter = cfg.Solver.MaxIter
	t.storage = NewEventStorage(0)
	t.RegisterHooks(t.BuildHooks()...)
	logger.TrainLogger.Infof("run %s: %d parameter groups, optimizer %s, clipping %s",
		t.runID, len(optimizer.ParamGroups()), optimizer.Kind(), solver.ClipModeOf(optimizer))
	return t, nil
}

func (t *DefaultTrainer) RunID() string {
	return t.runID
}

func (t *DefaultTrainer) Checkpointer() *checkpoint.DetectionCheckpointer {
	return t.checkpointer
}

// LastEvalResults returns the results of the last evaluation during training.
func (t *DefaultTrainer) LastEvalResults() map[string]evaluation.Results {
	return t.lastEvalResults
}

// ResumeOrLoad resumes from the last checkpoint of OUTPUT_DIR when resume is set and
// one exists, continuing at the iteration after it. Otherwise MODEL.WEIGHTS is loaded
// and training starts at zero.
func (t *DefaultTrainer) ResumeOrLoad(resume bool) error {
	ck, err := t.checkpointer.ResumeOrLoad(t.cfg.Model.Weights, resume)
	if err != nil {
		return err
	}

	t.firstIter = 0
	if resume && ck.Resumed {
		t.firstIter = ck.Iteration + 1
	}

	return nil
}

// BuildHooks returns the default hooks. Checkpoints and writers run on the main
// process only.
func (t *DefaultTrainer) BuildHooks() []Hook {
	cfg := t.cfg
	hooks := []Hook{
		NewIterationTimer(),
		NewLRScheduler(t.scheduler, t.optimizer.ParamGroups()),
	}

	if comm.IsMainProcess() {
		hooks = append(hooks, NewPeriodicCheckpointer(
			checkpoint.NewPeriodicCheckpointer(t.checkpointer, cfg.Solver.CheckpointPeriod, cfg.Solver.MaxIter)))
	}

	hooks = append(hooks, NewEvalHook(cfg.Test.EvalPeriod, t.evaluate))

	if comm.IsMainProcess() {
		hooks = append(hooks, NewPeriodicWriter(t.BuildWriters(), t.writerPeriod))
	}

	return hooks
}

// BuildWriters returns the console, metrics.csv and prometheus writers.
func (t *DefaultTrainer) BuildWriters() []EventWriter {
	return []EventWriter{
		NewCommonMetricPrinter(t.cfg.Solver.MaxIter),
		NewCSVWriter(t.history, t.runID),
		NewPrometheusWriter(),
	}
}

func (t *DefaultTrainer) evaluate(ctx context.Context) (map[string]evaluation.Results, error) {
	results, err := t.Test(ctx)
	if err != nil {
		return nil, err
	}

	t.lastEvalResults = results
	if !comm.IsMainProcess() {
		return results, nil
	}

	var rows []storage.Evaluation
	now := time.Now().UnixNano()
	for dataset, res := range results {
		for task, m := range res {
			for metric, v := range m {
				metrics.EvaluateResultGauge.WithLabelValues(dataset, task, metric).Set(v)
				rows = append(rows, storage.Evaluation{
					RunID:     t.runID,
					Iteration: t.iter,
					Dataset:   dataset,
					Task:      task,
					Metric:    metric,
					Value:     v,
					CreatedAt: now,
				})
			}
		}
	}

	if err := t.history.CreateEvaluation(rows...); err != nil {
		return nil, err
	}

	return results, nil
}

// Test evaluates the trained model on every test dataset.
func (t *DefaultTrainer) Test(ctx context.Context) (map[string]evaluation.Results, error) {
	return Test(ctx, t.cfg, t.catalog, t.factory, t.model, nil, t.inferenceOpts...)
}

// Train runs [start iteration, SOLVER.MAX_ITER) and the final evaluation. With
// TEST.EXPECTED_RESULTS set, the last results are verified on the main process.
func (t *DefaultTrainer) Train(ctx context.Context) error {
	arch := t.cfg.Model.MetaArchitecture
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loader, err := t.factory.BuildTrainLoader(ctx, t.cfg)
	if err != nil {
		return err
	}
	defer loader.Close()
	t.loader = loader

	metrics.TrainStartedCount.WithLabelValues(arch).Inc()
	if err := t.SimpleTrainer.Train(ctx, t.firstIter, t.cfg.Solver.MaxIter); err != nil {
		metrics.TrainFinishedFailureCount.WithLabelValues(arch).Inc()
		return err
	}
	metrics.TrainFinishedCount.WithLabelValues(arch).Inc()

	if len(t.cfg.Test.ExpectedResults) > 0 && comm.IsMainProcess() {
		return evaluation.VerifyResults(t.cfg.Test, t.lastEvalResults)
	}

	return nil
}
