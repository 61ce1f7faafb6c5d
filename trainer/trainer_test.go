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
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uavdetect/detrtrain/pkg/comm"
	"github.com/uavdetect/detrtrain/trainer/config"
)

func TestServer_Serve(t *testing.T) {
	errTrain := errors.New("train")
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	tests := []struct {
		name    string
		env     map[string]string
		metrics config.MetricsConfig
		fn      func(ctx context.Context) error
		expect  func(t *testing.T, s *Server, err error)
	}{
		{
			name:    "metrics disabled",
			metrics: config.MetricsConfig{Enable: false},
			fn:      func(ctx context.Context) error { return nil },
			expect: func(t *testing.T, s *Server, err error) {
				assert.NoError(t, err)
				assert.Nil(t, s.metricsServer)
			},
		},
		{
			name:    "metrics served by local rank 0 only",
			env:     map[string]string{comm.EnvRank: "1", comm.EnvLocalRank: "1", comm.EnvWorldSize: "2"},
			metrics: config.MetricsConfig{Enable: true, Addr: busy.Addr().String()},
			fn:      func(ctx context.Context) error { return nil },
			expect: func(t *testing.T, s *Server, err error) {
				assert.NoError(t, err)
				assert.Nil(t, s.metricsServer)
			},
		},
		{
			name:    "metrics server stops with training",
			metrics: config.MetricsConfig{Enable: true, Addr: "127.0.0.1:0"},
			fn:      func(ctx context.Context) error { return nil },
			expect: func(t *testing.T, s *Server, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:    "training error",
			metrics: config.MetricsConfig{Enable: true, Addr: "127.0.0.1:0"},
			fn:      func(ctx context.Context) error { return errTrain },
			expect: func(t *testing.T, s *Server, err error) {
				assert.ErrorIs(t, err, errTrain)
			},
		},
		{
			name:    "metrics address in use cancels training",
			metrics: config.MetricsConfig{Enable: true, Addr: busy.Addr().String()},
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			expect: func(t *testing.T, s *Server, err error) {
				assert.ErrorContains(t, err, "metrics server closed unexpectedly")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg := config.New()
			cfg.Metrics = tc.metrics
			s := New(cfg)
			tc.expect(t, s, s.Serve(context.Background(), tc.fn))
		})
	}
}
