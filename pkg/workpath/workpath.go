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

package workpath

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

const (
	DefaultOutputDir     = "./output"
	DefaultOutputDirMode = fs.FileMode(0755)

	inferenceDirName      = "inference"
	logDirName            = "log"
	lastCheckpointName    = "last_checkpoint"
	checkpointLockName    = "last_checkpoint.lock"
	configDumpName        = "config.yaml"
	metricsHistoryName    = "metrics.csv"
	evalResultsDumpSuffix = "results.json"
)

// Workpath resolves every file a training run writes below OUTPUT_DIR.
type Workpath interface {
	OutputDir() string
	InferenceDir() string
	LogDir() string
	LastCheckpointPath() string
	CheckpointLockPath() string
	ConfigDumpPath() string
	MetricsHistoryPath() string
	EvalResultsPath(dataset string) string
}

type workpath struct {
	outputDir     string
	outputDirMode fs.FileMode
	inferenceDir  string
	logDir        string
}

// Option is a functional option for configuring the workpath.
type Option func(w *workpath)

// WithOutputDirMode sets the mode of created directories.
func WithOutputDirMode(mode fs.FileMode) Option {
	return func(w *workpath) {
		w.outputDirMode = mode
	}
}

// WithLogDir overrides <output>/log.
func WithLogDir(dir string) Option {
	return func(w *workpath) {
		w.logDir = dir
	}
}

// WithInferenceDir overrides <output>/inference.
func WithInferenceDir(dir string) Option {
	return func(w *workpath) {
		w.inferenceDir = dir
	}
}

// New creates the output, inference and log directories and returns their layout.
func New(outputDir string, options ...Option) (Workpath, error) {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	w := &workpath{
		outputDir:     outputDir,
		outputDirMode: DefaultOutputDirMode,
		inferenceDir:  filepath.Join(outputDir, inferenceDirName),
		logDir:        filepath.Join(outputDir, logDirName),
	}

	for _, opt := range options {
		opt(w)
	}

	var errs *multierror.Error
	for _, dir := range []string{w.outputDir, w.inferenceDir, w.logDir} {
		if err := os.MkdirAll(dir, w.outputDirMode); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	return w, nil
}

// InferenceDir returns the default evaluator output folder for outputDir
// without creating anything.
func InferenceDir(outputDir string) string {
	return filepath.Join(outputDir, inferenceDirName)
}

func (w *workpath) OutputDir() string {
	return w.outputDir
}

func (w *workpath) InferenceDir() string {
	return w.inferenceDir
}

func (w *workpath) LogDir() string {
	return w.logDir
}

func (w *workpath) LastCheckpointPath() string {
	return filepath.Join(w.outputDir, lastCheckpointName)
}

func (w *workpath) CheckpointLockPath() string {
	return filepath.Join(w.outputDir, checkpointLockName)
}

func (w *workpath) ConfigDumpPath() string {
	return filepath.Join(w.outputDir, configDumpName)
}

func (w *workpath) MetricsHistoryPath() string {
	return filepath.Join(w.outputDir, metricsHistoryName)
}

func (w *workpath) EvalResultsPath(dataset string) string {
	return filepath.Join(w.inferenceDir, dataset+"_"+evalResultsDumpSuffix)
}
