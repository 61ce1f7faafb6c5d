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

package data

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/catalog"
	"github.com/uavdetect/detrtrain/pkg/coco"
)

var (
	// ErrNoRecords is returned when a loader has nothing to iterate.
	ErrNoRecords = errors.New("no records to load")

	// ErrLoaderClosed is returned by Next after Close.
	ErrLoaderClosed = errors.New("loader closed")
)

// Loader yields batches of mapped samples.
type Loader interface {
	Next(ctx context.Context) ([]Sample, error)
	Close() error
}

// TrainLoaderOptions configures BuildDetectionTrainLoader.
type TrainLoaderOptions struct {
	// Input is used to build the default mapper when none is given.
	Input InputConfig

	// BatchSize is the number of samples per batch on this rank.
	BatchSize int

	NumWorkers  int
	FilterEmpty bool
	Seed        int64
	Rank        int
	WorldSize   int
}

// TrainingSampler yields an infinite stream of shuffled indices in [0, size). Every rank
// draws the same permutations from seed and keeps every WorldSize-th index.
type TrainingSampler struct {
	size  int
	rank  int
	world int
	rng   *rand.Rand
	perm  []int
	pos   int
	count int
}

func NewTrainingSampler(size int, seed int64, rank, world int) *TrainingSampler {
	if world < 1 {
		world = 1
	}

	return &TrainingSampler{
		size:  size,
		rank:  rank,
		world: world,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next index assigned to this rank.
func (s *TrainingSampler) Next() int {
	for {
		if s.pos >= len(s.perm) {
			s.perm = s.rng.Perm(s.size)
			s.pos = 0
		}

		idx := s.perm[s.pos]
		s.pos++
		s.count++
		if (s.count-1)%s.world == s.rank {
			return idx
		}
	}
}

type mapJob struct {
	record coco.Record
	seed   int64
}

// TrainLoader maps records with a pool of workers and groups them into batches.
type TrainLoader struct {
	batches chan []Sample
	cancel  context.CancelFunc
	eg      *errgroup.Group
	once    sync.Once
	err     error
}

// BuildDetectionTrainLoader loads the named datasets from c and starts the worker pool.
// A nil mapper selects NewDatasetMapper(opts.Input, true).
func BuildDetectionTrainLoader(ctx context.Context, c *catalog.Catalog, names []string, mapper Mapper, opts TrainLoaderOptions) (*TrainLoader, error) {
	if len(names) == 0 {
		return nil, errors.New("no training datasets configured")
	}

	if opts.BatchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}

	records, _, err := c.LoadMany(names...)
	if err != nil {
		return nil, err
	}

	if opts.FilterEmpty {
		records = filterEmpty(records)
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	if mapper == nil {
		mapper = NewDatasetMapper(opts.Input, true)
	}

	workers := max(opts.NumWorkers, 1)
	logger.Infof("using %d training images from %v with %d workers", len(records), names, workers)

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	l := &TrainLoader{
		batches: make(chan []Sample, workers),
		cancel:  cancel,
		eg:      eg,
	}

	jobs := make(chan mapJob, workers*opts.BatchSize)
	samples := make(chan Sample, workers*opts.BatchSize)
	sampler := NewTrainingSampler(len(records), opts.Seed, opts.Rank, opts.WorldSize)
	seeds := rand.New(rand.NewSource(opts.Seed + int64(opts.Rank)))

	eg.Go(func() error {
		defer close(jobs)
		for {
			job := mapJob{record: records[sampler.Next()], seed: seeds.Int63()}
			select {
			case jobs <- job:
			case <-ctx.Done():
				return nil
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		eg.Go(func() error {
			defer wg.Done()
			for job := range jobs {
				s, err := mapper.Map(job.record, rand.New(rand.NewSource(job.seed)))
				if err != nil {
					return err
				}

				select {
				case samples <- s:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		wg.Wait()
		close(samples)
	}()

	eg.Go(func() error {
		defer close(l.batches)
		batch := make([]Sample, 0, opts.BatchSize)
		for s := range samples {
			batch = append(batch, s)
			if len(batch) < opts.BatchSize {
				continue
			}

			select {
			case l.batches <- batch:
			case <-ctx.Done():
				return nil
			}
			batch = make([]Sample, 0, opts.BatchSize)
		}
		return nil
	})

	return l, nil
}

// Next blocks until a batch is ready. Once the pool stops, Next returns the first
// mapping error or ErrLoaderClosed.
func (l *TrainLoader) Next(ctx context.Context) ([]Sample, error) {
	select {
	case batch, ok := <-l.batches:
		if ok {
			return batch, nil
		}

		if err := l.wait(); err != nil {
			return nil, err
		}
		return nil, ErrLoaderClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers and waits for them to exit.
func (l *TrainLoader) Close() error {
	l.cancel()
	for range l.batches {
	}

	return l.wait()
}

func (l *TrainLoader) wait() error {
	l.once.Do(func() {
		l.err = l.eg.Wait()
	})

	return l.err
}

// filterEmpty keeps records with at least one non-crowd instance.
func filterEmpty(records []coco.Record) []coco.Record {
	out := records[:0:0]
	for _, rec := range records {
		for _, inst := range rec.Instances {
			if !inst.IsCrowd {
				out = append(out, rec)
				break
			}
		}
	}

	if removed := len(records) - len(out); removed > 0 {
		logger.Infof("removed %d images with no usable annotations, %d images left", removed, len(out))
	}

	return out
}

// TestLoader iterates a dataset once, in order, one image per batch.
type TestLoader struct {
	records []coco.Record
	mapper  Mapper
	rng     *rand.Rand
	mu      sync.Mutex
	pos     int
}

// BuildDetectionTestLoader loads name from c. A nil mapper selects
// NewDatasetMapper(input, false).
func BuildDetectionTestLoader(c *catalog.Catalog, name string, mapper Mapper, input InputConfig) (*TestLoader, error) {
	records, _, err := c.Load(name)
	if err != nil {
		return nil, err
	}

	if mapper == nil {
		mapper = NewDatasetMapper(input, false)
	}

	return &TestLoader{
		records: records,
		mapper:  mapper,
		rng:     rand.New(rand.NewSource(0)),
	}, nil
}

// Len returns the number of images in the dataset.
func (l *TestLoader) Len() int {
	return len(l.records)
}

// Next returns io.EOF after the last image.
func (l *TestLoader) Next(ctx context.Context) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pos >= len(l.records) {
		return nil, io.EOF
	}

	rec := l.records[l.pos]
	l.pos++
	s, err := l.mapper.Map(rec, l.rng)
	if err != nil {
		return nil, err
	}

	return []Sample{s}, nil
}

// Reset rewinds the loader to the first image.
func (l *TestLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = 0
}

func (l *TestLoader) Close() error {
	return nil
}
