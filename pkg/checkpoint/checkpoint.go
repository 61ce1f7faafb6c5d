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

// Package checkpoint saves and restores a model together with its optimizer state.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/gofrs/flock"
	pkgerrors "github.com/pkg/errors"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/modeling"
)

const (
	// LastCheckpointFile names the file holding the base name of the newest checkpoint.
	LastCheckpointFile = "last_checkpoint"

	FileExt = ".born"

	// FinalName is the checkpoint written after the last iteration.
	FinalName = "model_final"

	metaIteration = "iteration"
	metaRunID     = "run_id"

	modelType = "detrtrain"
)

var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpointable is state saved next to the model, such as an optimizer.
type Checkpointable interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// Checkpoint describes a loaded checkpoint. Iteration is -1 unless training state was
// resumed.
type Checkpoint struct {
	Path      string
	Iteration int
	RunID     string
	Resumed   bool
	Metadata  map[string]string
}

type Option func(*DetectionCheckpointer)

// WithCheckpointable saves c under keys prefixed by name.
func WithCheckpointable(name string, c Checkpointable) Option {
	return func(d *DetectionCheckpointer) {
		d.checkpointables[name] = c
	}
}

// WithSaveToDisk disables writing, as on every process but the main one.
func WithSaveToDisk(save bool) Option {
	return func(d *DetectionCheckpointer) {
		d.saveToDisk = save
	}
}

// WithRunID records id in every saved checkpoint.
func WithRunID(id string) Option {
	return func(d *DetectionCheckpointer) {
		d.runID = id
	}
}

// DetectionCheckpointer stores model and training state as born files in a directory.
type DetectionCheckpointer struct {
	model           modeling.Model
	saveDir         string
	saveToDisk      bool
	runID           string
	checkpointables map[string]Checkpointable
}

func NewDetectionCheckpointer(model modeling.Model, saveDir string, opts ...Option) *DetectionCheckpointer {
	d := &DetectionCheckpointer{
		model:           model,
		saveDir:         saveDir,
		saveToDisk:      true,
		checkpointables: map[string]Checkpointable{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *DetectionCheckpointer) SaveDir() string {
	return d.saveDir
}

// Save writes <saveDir>/<name>.born and points last_checkpoint at it.
func (d *DetectionCheckpointer) Save(name string, iteration int) error {
	if !d.saveToDisk || d.saveDir == "" {
		return nil
	}

	if err := os.MkdirAll(d.saveDir, 0755); err != nil {
		return err
	}

	path := filepath.Join(d.saveDir, name+FileExt)
	metadata := map[string]string{
		metaIteration: strconv.Itoa(iteration),
		metaRunID:     d.runID,
	}

	logger.TrainLogger.Infof("saving checkpoint to %s", path)
	if err := nn.Save[modeling.Backend](d.bundle(true), path, modelType, metadata); err != nil {
		return pkgerrors.Wrapf(err, "save checkpoint %s", path)
	}

	return d.tagLastCheckpoint(filepath.Base(path))
}

// HasCheckpoint reports whether last_checkpoint exists in the save directory.
func (d *DetectionCheckpointer) HasCheckpoint() bool {
	_, err := os.Stat(filepath.Join(d.saveDir, LastCheckpointFile))
	return err == nil
}

// LastCheckpoint returns the path last_checkpoint points at.
func (d *DetectionCheckpointer) LastCheckpoint() (string, error) {
	lock := flock.New(d.lockPath())
	if err := lock.RLock(); err != nil {
		return "", err
	}
	defer lock.Unlock()

	b, err := os.ReadFile(filepath.Join(d.saveDir, LastCheckpointFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCheckpoint
		}
		return "", err
	}

	name := strings.TrimSpace(string(b))
	if name == "" {
		return "", ErrNoCheckpoint
	}

	return filepath.Join(d.saveDir, name), nil
}

func (d *DetectionCheckpointer) tagLastCheckpoint(name string) error {
	lock := flock.New(d.lockPath())
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	tmp := filepath.Join(d.saveDir, LastCheckpointFile+".tmp")
	if err := os.WriteFile(tmp, []byte(name), 0644); err != nil {
		return err
	}

	return os.Rename(tmp, filepath.Join(d.saveDir, LastCheckpointFile))
}

func (d *DetectionCheckpointer) lockPath() string {
	return filepath.Join(d.saveDir, LastCheckpointFile+".lock")
}

// Load restores the model from path. With training state set the checkpointables are
// restored too and the saved iteration is reported.
func (d *DetectionCheckpointer) Load(path string, trainingState bool) (Checkpoint, error) {
	logger.TrainLogger.Infof("loading checkpoint from %s", path)
	header, err := nn.Load(path, d.model.Backend(), d.bundle(trainingState))
	if err != nil {
		return Checkpoint{}, pkgerrors.Wrapf(err, "load checkpoint %s", path)
	}

	ckpt := Checkpoint{
		Path:      path,
		Iteration: -1,
		RunID:     header.Metadata[metaRunID],
		Resumed:   trainingState,
		Metadata:  header.Metadata,
	}

	if trainingState {
		if v, ok := header.Metadata[metaIteration]; ok {
			iter, err := strconv.Atoi(v)
			if err != nil {
				return Checkpoint{}, fmt.Errorf("checkpoint %s has invalid iteration %q", path, v)
			}
			ckpt.Iteration = iter
		}
	}

	return ckpt, nil
}

// ResumeOrLoad resumes from last_checkpoint when resume is set and one exists. Otherwise
// it loads the model weights at path, or nothing when path is empty.
func (d *DetectionCheckpointer) ResumeOrLoad(path string, resume bool) (Checkpoint, error) {
	if resume && d.HasCheckpoint() {
		last, err := d.LastCheckpoint()
		if err != nil {
			return Checkpoint{}, err
		}

		return d.Load(last, true)
	}

	if path == "" {
		logger.TrainLogger.Infof("no checkpoint found, training from scratch")
		return Checkpoint{Iteration: -1}, nil
	}

	return d.Load(path, false)
}

func (d *DetectionCheckpointer) bundle(trainingState bool) *bundle {
	return &bundle{Model: d.model, extra: d.checkpointables, loadExtra: trainingState}
}

// bundle presents the model and its checkpointables as one born module. Checkpointable
// keys are stored as "<name>.<key>".
type bundle struct {
	modeling.Model
	extra     map[string]Checkpointable
	loadExtra bool
}

func (b *bundle) StateDict() map[string]*tensor.RawTensor {
	sd := map[string]*tensor.RawTensor{}
	for k, v := range b.Model.StateDict() {
		sd[k] = v
	}

	for name, c := range b.extra {
		for k, v := range c.StateDict() {
			sd[name+"."+k] = v
		}
	}

	return sd
}

func (b *bundle) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	model := make(map[string]*tensor.RawTensor, len(sd))
	parts := make(map[string]map[string]*tensor.RawTensor, len(b.extra))
	for name := range b.extra {
		parts[name] = map[string]*tensor.RawTensor{}
	}

	for k, v := range sd {
		prefix, rest, ok := strings.Cut(k, ".")
		if part, known := parts[prefix]; ok && known {
			part[rest] = v
			continue
		}
		model[k] = v
	}

	if err := b.Model.LoadStateDict(model); err != nil {
		return err
	}

	if !b.loadExtra {
		return nil
	}

	for name, c := range b.extra {
		if err := c.LoadStateDict(parts[name]); err != nil {
			return pkgerrors.Wrapf(err, "load %s state", name)
		}
	}

	return nil
}

// PeriodicCheckpointer saves every period iterations and once at the end of training.
type PeriodicCheckpointer struct {
	checkpointer *DetectionCheckpointer
	period       int
	maxIter      int
}

func NewPeriodicCheckpointer(c *DetectionCheckpointer, period, maxIter int) *PeriodicCheckpointer {
	return &PeriodicCheckpointer{checkpointer: c, period: period, maxIter: maxIter}
}

// Step is called after iteration has run.
func (p *PeriodicCheckpointer) Step(iteration int) error {
	if p.period > 0 && (iteration+1)%p.period == 0 {
		if err := p.checkpointer.Save(fmt.Sprintf("model_%07d", iteration), iteration); err != nil {
			return err
		}
	}

	if p.maxIter > 0 && iteration >= p.maxIter-1 {
		return p.checkpointer.Save(FinalName, iteration)
	}

	return nil
}
