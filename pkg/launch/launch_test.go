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

package launch

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uavdetect/detrtrain/pkg/comm"
)

type recorder struct {
	mu   sync.Mutex
	envs [][]string
	fail map[string]error
}

func (r *recorder) spawn(ctx context.Context, env []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return r.fail[env[0]]
}

func (r *recorder) ranks() []string {
	var ranks []string
	for _, env := range r.envs {
		ranks = append(ranks, env[0])
	}
	sort.Strings(ranks)
	return ranks
}

func TestLaunch(t *testing.T) {
	t.Setenv(comm.EnvRank, "")
	os.Unsetenv(comm.EnvRank)

	tests := []struct {
		name        string
		numGPUs     int
		numMachines int
		machineRank int
		distURL     string
		fail        map[string]error
		expect      func(t *testing.T, r *recorder, inProcess int, err error)
	}{
		{
			name:        "single worker runs in process",
			numGPUs:     1,
			numMachines: 1,
			distURL:     AutoDistURL,
			expect: func(t *testing.T, r *recorder, inProcess int, err error) {
				require.NoError(t, err)
				assert.Equal(t, 1, inProcess)
				assert.Empty(t, r.envs)
			},
		},
		{
			name:        "local workers",
			numGPUs:     2,
			numMachines: 1,
			distURL:     AutoDistURL,
			expect: func(t *testing.T, r *recorder, inProcess int, err error) {
				require.NoError(t, err)
				assert.Zero(t, inProcess)
				assert.Equal(t, []string{"DETRTRAIN_RANK=0", "DETRTRAIN_RANK=1"}, r.ranks())
				for _, env := range r.envs {
					assert.Contains(t, env, "DETRTRAIN_WORLD_SIZE=2")
					assert.True(t, strings.HasPrefix(env[4], "DETRTRAIN_DIST_URL=tcp://127.0.0.1:"))
				}
			},
		},
		{
			name:        "second machine offsets ranks",
			numGPUs:     2,
			numMachines: 2,
			machineRank: 1,
			distURL:     "tcp://10.0.0.1:5000",
			expect: func(t *testing.T, r *recorder, inProcess int, err error) {
				require.NoError(t, err)
				assert.Equal(t, []string{"DETRTRAIN_RANK=2", "DETRTRAIN_RANK=3"}, r.ranks())
				assert.Contains(t, r.envs[0], "DETRTRAIN_WORLD_SIZE=4")
			},
		},
		{
			name:        "auto url on several machines",
			numGPUs:     1,
			numMachines: 2,
			distURL:     AutoDistURL,
			expect: func(t *testing.T, r *recorder, inProcess int, err error) {
				assert.ErrorIs(t, err, ErrInvalidTopology)
				assert.Empty(t, r.envs)
			},
		},
		{
			name:        "machine rank out of range",
			numGPUs:     1,
			numMachines: 1,
			machineRank: 1,
			expect: func(t *testing.T, r *recorder, inProcess int, err error) {
				assert.ErrorIs(t, err, ErrInvalidTopology)
			},
		},
		{
			name:        "worker failures are reported",
			numGPUs:     2,
			numMachines: 1,
			distURL:     "tcp://127.0.0.1:5000",
			fail:        map[string]error{"DETRTRAIN_RANK=1": errors.New("exit status 1")},
			expect: func(t *testing.T, r *recorder, inProcess int, err error) {
				assert.ErrorContains(t, err, "worker 1: exit status 1")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{fail: tc.fail}
			var inProcess int
			main := func(ctx context.Context, args []string) error {
				inProcess++
				return nil
			}

			err := LaunchWith(context.Background(), r.spawn, main, tc.numGPUs, tc.numMachines, tc.machineRank, tc.distURL, []string{"--config-file", "x.yaml"})
			tc.expect(t, r, inProcess, err)
		})
	}
}

func TestDefaultDistURL(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultDistURL(), "tcp://127.0.0.1:"))
}
