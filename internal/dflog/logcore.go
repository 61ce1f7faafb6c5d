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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	CoreLogFileName  = "core.log"
	TrainLogFileName = "train.log"
	EvalLogFileName  = "eval.log"
)

const (
	defaultRotateMaxSize    = 300
	defaultRotateMaxBackups = 50
	defaultRotateMaxAge     = 7
)

const (
	encodeTimeFormat = "2006-01-02 15:04:05.000"
)

// LogRotateConfig holds lumberjack rotation limits. Zero fields fall back to defaults.
type LogRotateConfig struct {
	// MaxSize in megabytes.
	MaxSize int `yaml:"MAX_SIZE" mapstructure:"MAX_SIZE"`

	// MaxAge in days.
	MaxAge int `yaml:"MAX_AGE" mapstructure:"MAX_AGE"`

	MaxBackups int `yaml:"MAX_BACKUPS" mapstructure:"MAX_BACKUPS"`

	Compress bool `yaml:"COMPRESS" mapstructure:"COMPRESS"`
}

func (c LogRotateConfig) withDefaults() LogRotateConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = defaultRotateMaxSize
	}

	if c.MaxAge <= 0 {
		c.MaxAge = defaultRotateMaxAge
	}

	if c.MaxBackups <= 0 {
		c.MaxBackups = defaultRotateMaxBackups
	}

	return c
}

// CreateLogger builds a JSON logger writing to filePath through lumberjack.
func CreateLogger(filePath string, verbose bool, rotateConfig LogRotateConfig) (*zap.Logger, zap.AtomicLevel, error) {
	rotateConfig = rotateConfig.withDefaults()
	syncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rotateConfig.MaxSize,
		MaxAge:     rotateConfig.MaxAge,
		MaxBackups: rotateConfig.MaxBackups,
		LocalTime:  true,
		Compress:   rotateConfig.Compress,
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(encodeTimeFormat)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		syncer,
		level,
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1)), level, nil
}
