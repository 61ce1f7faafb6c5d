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

//go:generate mockgen -destination mocks/storage_mock.go -source storage.go -package mocks

package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"

	"github.com/uavdetect/detrtrain/pkg/container/set"
)

const (
	// MetricsFileName is the training history written below OUTPUT_DIR.
	MetricsFileName = "metrics.csv"

	// EvaluationFileName is the evaluation history written below OUTPUT_DIR.
	EvaluationFileName = "evaluation.csv"
)

// ErrEmpty is returned when a history file has no rows.
var ErrEmpty = errors.New("empty csv file given")

// Storage is the interface used for the training history.
type Storage interface {
	// CreateMetrics appends training rows to the metrics file.
	CreateMetrics(...Metrics) error

	// CreateEvaluation appends evaluation rows to the evaluation file.
	CreateEvaluation(...Evaluation) error

	// ListMetrics returns every training row.
	ListMetrics() ([]Metrics, error)

	// ListEvaluation returns every evaluation row.
	ListEvaluation() ([]Evaluation, error)

	// OpenMetrics opens the metrics file for read.
	OpenMetrics() (io.ReadCloser, error)

	// Clear removes the files written by this storage.
	Clear() error
}

type storage struct {
	baseDir string
	mu      sync.Mutex
	files   set.SafeSet[string]
}

// New returns a new Storage instance.
func New(baseDir string) Storage {
	return &storage{
		baseDir: baseDir,
		files:   set.NewSafeSet[string](),
	}
}

// CreateMetrics appends training rows to the metrics file.
func (s *storage) CreateMetrics(rows ...Metrics) error {
	return appendRows(s, s.metricsFilename(), rows)
}

// CreateEvaluation appends evaluation rows to the evaluation file.
func (s *storage) CreateEvaluation(rows ...Evaluation) error {
	return appendRows(s, s.evaluationFilename(), rows)
}

// ListMetrics returns every training row.
func (s *storage) ListMetrics() ([]Metrics, error) {
	var rows []Metrics
	if err := listRows(s, s.metricsFilename(), &rows); err != nil {
		return nil, err
	}

	return rows, nil
}

// ListEvaluation returns every evaluation row.
func (s *storage) ListEvaluation() ([]Evaluation, error) {
	var rows []Evaluation
	if err := listRows(s, s.evaluationFilename(), &rows); err != nil {
		return nil, err
	}

	return rows, nil
}

// OpenMetrics opens the metrics file for read.
func (s *storage) OpenMetrics() (io.ReadCloser, error) {
	file, err := os.Open(s.metricsFilename())
	if err != nil {
		return nil, err
	}

	return file, nil
}

// Clear removes the files written by this storage.
func (s *storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, filename := range s.files.Values() {
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			return err
		}
		s.files.Delete(filename)
	}

	return nil
}

// appendRows writes the csv header only when the file is new or empty.
func appendRows[T any](s *storage, filename string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		err = gocsv.MarshalFile(rows, file)
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, file)
	}
	if err != nil {
		return err
	}

	s.files.Add(filename)
	return nil
}

func listRows[T any](s *storage, filename string, rows *[]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		return ErrEmpty
	}

	return gocsv.UnmarshalFile(file, rows)
}

func (s *storage) metricsFilename() string {
	return filepath.Join(s.baseDir, MetricsFileName)
}

func (s *storage) evaluationFilename() string {
	return filepath.Join(s.baseDir, EvaluationFileName)
}
