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
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/trainer/metrics"
	"github.com/uavdetect/detrtrain/trainer/storage"
)

const (
	// smoothingWindow is the number of iterations losses and timings are smoothed over.
	smoothingWindow = 20

	scalarTime      = "time"
	scalarDataTime  = "data_time"
	scalarLR        = "lr"
	scalarTotalLoss = "total_loss"
)

// EventWriter exports the content of an EventStorage.
type EventWriter interface {
	Write(s *EventStorage) error
	Close() error
}

// lossNames returns the recorded loss scalars, total_loss first.
func lossNames(s *EventStorage) []string {
	var names []string
	for _, name := range s.Names() {
		if strings.HasPrefix(name, "loss") {
			names = append(names, name)
		}
	}

	return append([]string{scalarTotalLoss}, names...)
}

// CommonMetricPrinter logs losses, timing and ETA.
type CommonMetricPrinter struct {
	maxIter   int
	lastWrite int
}

func NewCommonMetricPrinter(maxIter int) *CommonMetricPrinter {
	return &CommonMetricPrinter{maxIter: maxIter, lastWrite: -1}
}

func (p *CommonMetricPrinter) Write(s *EventStorage) error {
	iter := s.Iter()
	if iter <= p.lastWrite {
		return nil
	}
	p.lastWrite = iter

	var b strings.Builder
	if median, ok := s.Median(scalarTime, 0); ok {
		eta := time.Duration(median * float64(p.maxIter-iter-1) * float64(time.Second))
		fmt.Fprintf(&b, "eta: %s  ", eta.Round(time.Second))
	}

	fmt.Fprintf(&b, "iter: %d ", iter)
	for _, name := range lossNames(s) {
		if v, ok := s.Median(name, smoothingWindow); ok {
			fmt.Fprintf(&b, " %s: %.4g", name, v)
		}
	}

	if v, ok := s.Median(scalarTime, smoothingWindow); ok {
		fmt.Fprintf(&b, "  time: %.4f", v)
	}
	if v, ok := s.Median(scalarDataTime, smoothingWindow); ok {
		fmt.Fprintf(&b, "  data_time: %.4f", v)
	}
	if e, ok := s.Latest()[scalarLR]; ok {
		fmt.Fprintf(&b, "  lr: %.3g", e.Value)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Fprintf(&b, "  max_mem: %s", humanize.IBytes(m.HeapSys))

	logger.TrainLogger.Info(b.String())
	return nil
}

func (p *CommonMetricPrinter) Close() error {
	return nil
}

// CSVWriter appends one smoothed row per write to the training history.
type CSVWriter struct {
	storage   storage.Storage
	runID     string
	lastWrite int
}

func NewCSVWriter(s storage.Storage, runID string) *CSVWriter {
	return &CSVWriter{storage: s, runID: runID, lastWrite: -1}
}

// Write skips iterations it has already written.
func (w *CSVWriter) Write(s *EventStorage) error {
	iter := s.Iter()
	if iter <= w.lastWrite {
		return nil
	}

	median := func(name string) float64 {
		v, _ := s.Median(name, smoothingWindow)
		return v
	}

	row := storage.Metrics{
		RunID:     w.runID,
		Iteration: iter,
		TotalLoss: median(scalarTotalLoss),
		LossCE:    median("loss_ce"),
		LossBBox:  median("loss_bbox"),
		LossGIoU:  median("loss_giou"),
		LR:        s.Latest()[scalarLR].Value,
		IterTime:  median(scalarTime),
		DataTime:  median(scalarDataTime),
		CreatedAt: time.Now().UnixNano(),
	}

	if err := w.storage.CreateMetrics(row); err != nil {
		return err
	}

	w.lastWrite = iter
	return nil
}

func (w *CSVWriter) Close() error {
	return nil
}

// PrometheusWriter exports the latest losses and learning rate as gauges.
type PrometheusWriter struct{}

func NewPrometheusWriter() *PrometheusWriter {
	return &PrometheusWriter{}
}

func (w *PrometheusWriter) Write(s *EventStorage) error {
	latest := s.Latest()
	for _, name := range lossNames(s) {
		if e, ok := latest[name]; ok {
			metrics.LossGauge.WithLabelValues(name).Set(e.Value)
		}
	}

	if e, ok := latest[scalarLR]; ok {
		metrics.LearningRateGauge.Set(e.Value)
	}

	return nil
}

func (w *PrometheusWriter) Close() error {
	return nil
}
