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

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uavdetect/detrtrain/cmd/dependency"
	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/launch"
	"github.com/uavdetect/detrtrain/trainer/training"
)

var (
	args      = &training.Args{}
	pprofPort int
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "detrtrain --config-file FILE [KEY VALUE ...]",
	Short: "train and evaluate DETR detectors",
	Long: `detrtrain trains DETR object detectors on the registered COCO-format datasets
(UAV, shapes and aerial cars), evaluates them with COCO box AP and checkpoints the
model, optimizer and iteration to the output directory. Trailing KEY VALUE pairs
override config entries.`,
	Args: func(cmd *cobra.Command, opts []string) error {
		if len(opts)%2 != 0 {
			return fmt.Errorf("config overrides must be KEY VALUE pairs, got odd length %d", len(opts))
		}

		return nil
	},
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, opts []string) error {
		args.Opts = opts
		fmt.Printf("Command Line Args: %+v\n", *args)

		dependency.InitVerboseMode(args.Verbose, pprofPort)

		ctx, cancel := dependency.SetupQuitSignalHandler(context.Background())
		defer cancel()

		return launch.Launch(ctx, training.Main, args.NumGPUs, args.NumMachines, args.MachineRank, args.DistURL, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&args.ConfigFile, "config-file", "", "path to config file")
	flags.BoolVar(&args.Resume, "resume", false, "resume from the last checkpoint of OUTPUT_DIR instead of loading MODEL.WEIGHTS")
	flags.BoolVar(&args.EvalOnly, "eval-only", false, "perform evaluation only")
	flags.IntVar(&args.NumGPUs, "num-gpus", 1, "number of worker processes per machine")
	flags.IntVar(&args.NumMachines, "num-machines", 1, "total number of machines")
	flags.IntVar(&args.MachineRank, "machine-rank", 0, "the rank of this machine (unique per machine)")
	flags.StringVar(&args.DistURL, "dist-url", launch.DefaultDistURL(), `initialization URL for distributed training, "auto" picks a free local port`)
	flags.BoolVar(&args.Console, "console", false, "whether logger output records to the stdout")
	flags.BoolVar(&args.Verbose, "verbose", false, "whether logger use debug level")
	flags.StringVar(&args.LogDir, "log-dir", "", "log directory, defaults to OUTPUT_DIR/log")
	flags.IntVar(&pprofPort, "pprof-port", 0, "listen port for pprof with verbose mode, 0 picks a free port")
	if err := rootCmd.MarkFlagRequired("config-file"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(datasetsCmd)
	dependency.AddCommonSubCmds(rootCmd)
}
