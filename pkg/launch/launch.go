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

// Package launch starts the worker processes of a training run.
package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/phayes/freeport"
	"golang.org/x/sync/errgroup"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/comm"
)

// AutoDistURL asks Launch to pick a free local port.
const AutoDistURL = "auto"

var ErrInvalidTopology = errors.New("invalid launch topology")

// SpawnFunc runs one worker with env added to its environment and waits for it to exit.
type SpawnFunc func(ctx context.Context, env []string) error

// MainFunc is the per-worker entry point.
type MainFunc[A any] func(ctx context.Context, args A) error

// DefaultDistURL derives a per-user local port so that concurrent users of one machine do
// not collide.
func DefaultDistURL() string {
	uid := os.Getuid()
	if uid < 0 {
		uid = 1
	}

	return fmt.Sprintf("tcp://127.0.0.1:%d", 1<<15+1<<14+uid%(1<<14))
}

// Launch runs main once per local worker. A world of one, or a process that is already a
// launched worker, runs main in place. Otherwise numGPUs copies of the current binary are
// started with their rank in the environment.
func Launch[A any](ctx context.Context, main MainFunc[A], numGPUs, numMachines, machineRank int, distURL string, args A) error {
	return LaunchWith(ctx, ReExec, main, numGPUs, numMachines, machineRank, distURL, args)
}

// LaunchWith is Launch with a custom way of starting workers.
func LaunchWith[A any](ctx context.Context, spawn SpawnFunc, main MainFunc[A], numGPUs, numMachines, machineRank int, distURL string, args A) error {
	if numGPUs < 1 || numMachines < 1 || machineRank < 0 || machineRank >= numMachines {
		return fmt.Errorf("%w: %d gpus, %d machines, machine rank %d", ErrInvalidTopology, numGPUs, numMachines, machineRank)
	}

	world := numGPUs * numMachines
	if world == 1 || comm.IsWorker() {
		return main(ctx, args)
	}

	if distURL == AutoDistURL {
		if numMachines != 1 {
			return fmt.Errorf("%w: dist_url=auto not supported in multi-machine jobs", ErrInvalidTopology)
		}

		port, err := freeport.GetFreePort()
		if err != nil {
			return err
		}
		distURL = fmt.Sprintf("tcp://127.0.0.1:%d", port)
	}

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	eg, ctx := errgroup.WithContext(ctx)
	for local := 0; local < numGPUs; local++ {
		info := comm.Info{
			Rank:        machineRank*numGPUs + local,
			LocalRank:   local,
			WorldSize:   world,
			MachineRank: machineRank,
			DistURL:     distURL,
		}

		eg.Go(func() error {
			logger.WithRank(info.Rank, info.WorldSize).Infof("starting worker, local rank %d", info.LocalRank)
			if err := spawn(ctx, info.Environ()); err != nil {
				err = fmt.Errorf("worker %d: %w", info.Rank, err)
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
				return err
			}

			return nil
		})
	}

	_ = eg.Wait()
	return merr.ErrorOrNil()
}

// ReExec starts the running binary again with the same arguments.
func ReExec(ctx context.Context, env []string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
