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
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
	"go.uber.org/atomic"
)

// maxHistory bounds the values kept per scalar.
const maxHistory = 4096

// HistoryEntry is one recorded value of a scalar.
type HistoryEntry struct {
	Value     float64
	Iteration int
}

// EventStorage collects the scalars written during training, keyed by name and tagged
// with the iteration they were written at. It is safe for concurrent use.
type EventStorage struct {
	iter *atomic.Int64

	mu      sync.RWMutex
	history map[string][]HistoryEntry
}

func NewEventStorage(startIter int) *EventStorage {
	return &EventStorage{
		iter:    atomic.NewInt64(int64(startIter)),
		history: map[string][]HistoryEntry{},
	}
}

// Iter returns the iteration scalars are currently tagged with.
func (s *EventStorage) Iter() int {
	return int(s.iter.Load())
}

func (s *EventStorage) SetIter(iter int) {
	s.iter.Store(int64(iter))
}

func (s *EventStorage) PutScalar(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(name, value)
}

func (s *EventStorage) PutScalars(scalars map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range scalars {
		s.put(name, value)
	}
}

func (s *EventStorage) put(name string, value float64) {
	h := append(s.history[name], HistoryEntry{Value: value, Iteration: s.Iter()})
	if len(h) > maxHistory {
		h = append([]HistoryEntry(nil), h[len(h)-maxHistory:]...)
	}
	s.history[name] = h
}

// Latest returns the newest entry of every scalar.
func (s *EventStorage) Latest() map[string]HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]HistoryEntry, len(s.history))
	for name, h := range s.history {
		latest[name] = h[len(h)-1]
	}

	return latest
}

// History returns a copy of the values recorded for name.
func (s *EventStorage) History(name string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.history[name]...)
}

// Median returns the median of the last window values of name.
func (s *EventStorage) Median(name string, window int) (float64, bool) {
	s.mu.RLock()
	h := s.history[name]
	if len(h) == 0 {
		s.mu.RUnlock()
		return 0, false
	}

	if window <= 0 || window > len(h) {
		window = len(h)
	}

	values := make(stats.Float64Data, window)
	for i, e := range h[len(h)-window:] {
		values[i] = e.Value
	}
	s.mu.RUnlock()

	median, err := stats.Median(values)
	if err != nil {
		return 0, false
	}

	return median, true
}

// Names returns the recorded scalar names in order.
func (s *EventStorage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.history))
	for name := range s.history {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
