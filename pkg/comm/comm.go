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

// Package comm reports the position of this process in a launched topology.
package comm

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvRank        = "DETRTRAIN_RANK"
	EnvLocalRank   = "DETRTRAIN_LOCAL_RANK"
	EnvWorldSize   = "DETRTRAIN_WORLD_SIZE"
	EnvMachineRank = "DETRTRAIN_MACHINE_RANK"
	EnvDistURL     = "DETRTRAIN_DIST_URL"
)

// Info is the rank layout of one worker.
type Info struct {
	Rank        int
	LocalRank   int
	WorldSize   int
	MachineRank int
	DistURL     string
}

// FromEnv reads Info from the environment. A process started outside a launcher is
// rank 0 of a world of 1.
func FromEnv() Info {
	return Info{
		Rank:        envInt(EnvRank, 0),
		LocalRank:   envInt(EnvLocalRank, 0),
		WorldSize:   envInt(EnvWorldSize, 1),
		MachineRank: envInt(EnvMachineRank, 0),
		DistURL:     os.Getenv(EnvDistURL),
	}
}

// Environ renders i as environment assignments for a child process.
func (i Info) Environ() []string {
	return []string{
		fmt.Sprintf("%s=%d", EnvRank, i.Rank),
		fmt.Sprintf("%s=%d", EnvLocalRank, i.LocalRank),
		fmt.Sprintf("%s=%d", EnvWorldSize, i.WorldSize),
		fmt.Sprintf("%s=%d", EnvMachineRank, i.MachineRank),
		fmt.Sprintf("%s=%s", EnvDistURL, i.DistURL),
	}
}

// IsWorker reports whether this process was started by a launcher.
func IsWorker() bool {
	_, ok := os.LookupEnv(EnvRank)
	return ok
}

func GetRank() int {
	return FromEnv().Rank
}

func GetLocalRank() int {
	return FromEnv().LocalRank
}

func GetWorldSize() int {
	return FromEnv().WorldSize
}

// IsMainProcess reports whether this is rank 0.
func IsMainProcess() bool {
	return GetRank() == 0
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}
