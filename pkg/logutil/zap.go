// Copyright 2026 The raftkit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil builds the zap loggers used by the raftkit binaries.
package logutil

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogLevel is the log level used when none is configured.
const DefaultLogLevel = "info"

var levels = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
	"panic": zap.PanicLevel,
	"fatal": zap.FatalLevel,
}

// DefaultZapLoggerConfig defines default zap logger configuration.
var DefaultZapLoggerConfig = zap.Config{
	Level: zap.NewAtomicLevelAt(zap.InfoLevel),

	Development: false,
	Sampling: &zap.SamplingConfig{
		Initial:    100,
		Thereafter: 100,
	},

	Encoding: "json",

	// copied from "zap.NewProductionEncoderConfig" with some updates
	EncoderConfig: zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000000Z0700"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	},

	// Use "/dev/null" to discard all
	OutputPaths:      []string{"stderr"},
	ErrorOutputPaths: []string{"stderr"},
}

// ConvertToZapLevel converts a log level string to zapcore.Level.
func ConvertToZapLevel(lvl string) (zapcore.Level, error) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(lvl))]
	if !ok {
		return zap.InfoLevel, fmt.Errorf("unknown log level %q (expected one of %s)", lvl, strings.Join(LevelNames(), ", "))
	}
	return l, nil
}

// LevelNames returns the accepted log level names, sorted by severity.
func LevelNames() []string {
	names := make([]string, 0, len(levels))
	for n := range levels {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return levels[names[i]] < levels[names[j]] })
	return names
}

// CreateDefaultZapLogger creates a logger with the default configuration at
// the given level, writing to outputs (stderr when empty).
func CreateDefaultZapLogger(level string, outputs ...string) (*zap.Logger, error) {
	lvl, err := ConvertToZapLevel(level)
	if err != nil {
		return nil, err
	}
	lcfg := DefaultZapLoggerConfig
	lcfg.Level = zap.NewAtomicLevelAt(lvl)
	if len(outputs) > 0 {
		lcfg.OutputPaths = outputs
	}
	if lvl == zap.DebugLevel {
		lcfg.Sampling = nil
	}
	lg, err := lcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("cannot build logger: %w", err)
	}
	return lg, nil
}

// Elapsed returns a field recording the time since start.
func Elapsed(start time.Time) zap.Field {
	return zap.Duration("took", time.Since(start))
}
