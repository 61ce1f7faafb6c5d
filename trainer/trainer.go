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

package trainer

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/comm"
	"github.com/uavdetect/detrtrain/trainer/config"
	"github.com/uavdetect/detrtrain/trainer/metrics"
)

// shutdownTimeout bounds the graceful stop of the metrics server.
const shutdownTimeout = 5 * time.Second

type Server struct {
	// Server configuration.
	config *config.Config

	// Metrics server.
	metricsServer *http.Server
}

// New builds the server. Only the first worker of each machine serves metrics, since
// every local worker shares METRICS.ADDR.
func New(cfg *config.Config) *Server {
	s := &Server{config: cfg}

	// Initialize metrics.
	if cfg.Metrics.Enable && comm.GetLocalRank() == 0 {
		s.metricsServer = metrics.New(&cfg.Metrics)
	}

	return s
}

// Serve runs fn next to the metrics server and stops the server once fn returns. A
// metrics server failure cancels the context given to fn.
func (s *Server) Serve(ctx context.Context, fn func(context.Context) error) error {
	if s.metricsServer == nil {
		return fn(ctx)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Infof("started metrics server at %s", s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				return nil
			}

			return errors.Wrap(err, "metrics server closed unexpectedly")
		}

		return nil
	})

	eg.Go(func() error {
		defer s.Stop()
		return fn(ctx)
	})

	return eg.Wait()
}

func (s *Server) Stop() {
	if s.metricsServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		logger.Errorf("stop metrics server failed %s", err.Error())
	} else {
		logger.Info("metrics server closed")
	}
}
