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

package dependency

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/phayes/freeport"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
	"go.uber.org/zap/zapcore"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
)

// InitVerboseMode raises log levels to debug and serves pprof/statsview on pprofPort,
// picking a free port when pprofPort is zero.
func InitVerboseMode(verbose bool, pprofPort int) {
	if !verbose {
		return
	}

	logger.SetLevel(zapcore.DebugLevel)

	go func() {
		if pprofPort == 0 {
			pprofPort, _ = freeport.GetFreePort()
		}

		debugAddr := fmt.Sprintf("localhost:%d", pprofPort)
		viewer.SetConfiguration(viewer.WithAddr(debugAddr))

		logger.With("pprof", fmt.Sprintf("http://%s/debug/pprof", debugAddr),
			"statsview", fmt.Sprintf("http://%s/debug/statsview", debugAddr)).
			Infof("enable pprof at %s", debugAddr)

		if err := statsview.New().Start(); err != nil {
			logger.Warnf("serve pprof error: %v", err)
		}
	}()
}

// SetupQuitSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupQuitSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			logger.Infof("received quit signal, stopping")
		}
	}()

	return ctx, cancel
}

// AddCommonSubCmds adds the version and doc sub commands to parent.
func AddCommonSubCmds(parent *cobra.Command) {
	parent.AddCommand(VersionCmd)
	parent.AddCommand(NewGenDocCommand(parent.Name()))
}

// NewGenDocCommand generates markdown documentation for the command tree.
func NewGenDocCommand(parent string) *cobra.Command {
	var destination string
	cmd := &cobra.Command{
		Use:               "doc",
		Short:             "generate documents",
		Long:              fmt.Sprintf("generate markdown documents for the %s command line tool.", parent),
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(destination, 0755); err != nil {
				return err
			}

			return doc.GenMarkdownTree(cmd.Root(), destination)
		},
	}

	cmd.Flags().StringVar(&destination, "path", filepath.Join(".", "docs"), "destination dir of generated markdown documents")
	return cmd
}
