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

package comm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		expect func(t *testing.T, info Info)
	}{
		{
			name: "outside a launcher",
			expect: func(t *testing.T, info Info) {
				assert.Equal(t, Info{WorldSize: 1}, info)
				assert.False(t, IsWorker())
				assert.True(t, IsMainProcess())
			},
		},
		{
			name: "second worker",
			env: map[string]string{
				EnvRank:        "3",
				EnvLocalRank:   "1",
				EnvWorldSize:   "4",
				EnvMachineRank: "1",
				EnvDistURL:     "tcp://10.0.0.1:5000",
			},
			expect: func(t *testing.T, info Info) {
				assert.Equal(t, Info{Rank: 3, LocalRank: 1, WorldSize: 4, MachineRank: 1, DistURL: "tcp://10.0.0.1:5000"}, info)
				assert.True(t, IsWorker())
				assert.False(t, IsMainProcess())
				assert.Equal(t, 4, GetWorldSize())
				assert.Equal(t, 1, GetLocalRank())
			},
		},
		{
			name: "malformed values fall back",
			env:  map[string]string{EnvRank: "x", EnvWorldSize: ""},
			expect: func(t *testing.T, info Info) {
				assert.Equal(t, 0, info.Rank)
				assert.Equal(t, 1, info.WorldSize)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, key := range []string{EnvRank, EnvLocalRank, EnvWorldSize, EnvMachineRank, EnvDistURL} {
				if v, ok := tc.env[key]; ok {
					t.Setenv(key, v)
				} else {
					unsetenv(t, key)
				}
			}

			tc.expect(t, FromEnv())
		})
	}
}

func TestEnviron(t *testing.T) {
	info := Info{Rank: 1, LocalRank: 1, WorldSize: 2, DistURL: "tcp://127.0.0.1:1234"}
	assert.Equal(t, []string{
		"DETRTRAIN_RANK=1",
		"DETRTRAIN_LOCAL_RANK=1",
		"DETRTRAIN_WORLD_SIZE=2",
		"DETRTRAIN_MACHINE_RANK=0",
		"DETRTRAIN_DIST_URL=tcp://127.0.0.1:1234",
	}, info.Environ())
}

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}
