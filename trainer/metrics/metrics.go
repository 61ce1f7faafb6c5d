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

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uavdetect/detrtrain/trainer/config"
	"github.com/uavdetect/detrtrain/version"
)

const (
	// Namespace is the prefix of every metric.
	Namespace = "detrtrain"

	// TrainerSubsystem groups the training metrics.
	TrainerSubsystem = "trainer"
)

// Variables declared for metrics.
var (
	TrainStartedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "training_started_total",
		Help:      "Counter of the number of the training started.",
	}, []string{"arch"})

	TrainFinishedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "training_finished_total",
		Help:      "Counter of the number of the training finished.",
	}, []string{"arch"})

	TrainFinishedFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "training_finished_failure_total",
		Help:      "Counter of the number of failed of the training finished.",
	}, []string{"arch"})

	IterationCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "iteration_total",
		Help:      "Counter of the number of the training iterations run.",
	})

	LossGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "loss",
		Help:      "Gauge of the latest value of every loss term.",
	}, []string{"name"})

	LearningRateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "learning_rate",
		Help:      "Gauge of the learning rate of the first parameter group.",
	})

	IterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "iteration_duration_seconds",
		Help:      "Histogram of the duration of a training iteration.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	EvaluateCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "evaluate_total",
		Help:      "Counter of the number of the evaluating.",
	}, []string{"dataset"})

	EvaluateFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "evaluate_failure_total",
		Help:      "Counter of the number of failed of the evaluating.",
	}, []string{"dataset"})

	EvaluateResultGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "evaluate_result",
		Help:      "Gauge of the latest evaluation metrics.",
	}, []string{"dataset", "task", "metric"})

	VersionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: TrainerSubsystem,
		Name:      "version",
		Help:      "Version info of the service.",
	}, []string{"major", "minor", "git_version", "git_commit", "platform", "build_time", "go_version"})
)

// New returns the metrics server. It is started by the caller.
func New(cfg *config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	VersionGauge.WithLabelValues(version.Major, version.Minor, version.GitVersion, version.GitCommit, version.Platform, version.BuildTime, version.GoVersion).Set(1)
	return &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
}
