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

package logger

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type logInitMeta struct {
	fileName             string
	setSugaredLoggerFunc func(*zap.SugaredLogger)
}

// InitTrainer initializes the core, train and eval loggers. With console set all of them
// write to stderr, otherwise each one writes a rotated JSON file under dir.
func InitTrainer(verbose, console bool, dir string, rotateConfig LogRotateConfig) error {
	if console {
		return createConsoleLogger(verbose)
	}

	var meta = []logInitMeta{
		{
			fileName:             CoreLogFileName,
			setSugaredLoggerFunc: SetCoreLogger,
		},
		{
			fileName:             TrainLogFileName,
			setSugaredLoggerFunc: SetTrainLogger,
		},
		{
			fileName:             EvalLogFileName,
			setSugaredLoggerFunc: SetEvalLogger,
		},
	}

	return createFileLogger(verbose, meta, dir, rotateConfig)
}

func createConsoleLogger(verbose bool) error {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	log, err := config.Build(zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	sugar := log.Sugar()
	SetCoreLogger(sugar)
	SetTrainLogger(sugar)
	SetEvalLogger(sugar)
	resetLevels(config.Level)
	startLoggerSignalHandler()
	return nil
}

func createFileLogger(verbose bool, meta []logInitMeta, logDir string, rotateConfig LogRotateConfig) error {
	var ls []zap.AtomicLevel
	for _, m := range meta {
		log, level, err := CreateLogger(filepath.Join(logDir, m.fileName), verbose, rotateConfig)
		if err != nil {
			return err
		}

		m.setSugaredLoggerFunc(log.Sugar())
		ls = append(ls, level)
	}

	resetLevels(ls...)
	startLoggerSignalHandler()
	return nil
}

var signalOnce sync.Once

// startLoggerSignalHandler toggles between debug and info level on SIGUSR1.
func startLoggerSignalHandler() {
	signalOnce.Do(func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGUSR1)

		go func() {
			debug := false
			for range signals {
				debug = !debug
				if debug {
					SetLevel(zapcore.DebugLevel)
				} else {
					SetLevel(zapcore.InfoLevel)
				}
			}
		}()
	})
}
