// Copyright 2025 UMH Systems GmbH
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

package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat represents the logging format.
type LogFormat string

const (
	// FormatConsole indicates human-readable console format.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON indicates structured JSON format.
	FormatJSON LogFormat = "JSON"
)

const (
	envLevel  = "LOGGING_LEVEL"
	envFormat = "LOGGING_FORMAT"
)

var (
	initOnce    sync.Once
	initialized bool
	// levelOverride is applied by Initialize when set through SetLevel before first use.
	levelOverride string
	// globalLevel backs the global logger so SetLevel works after Initialize.
	globalLevel = zap.NewAtomicLevel()
)

// ParseLevel converts a textual level into a zapcore.Level.
// Unknown values and "PRODUCTION" map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "DPANIC":
		return zapcore.DPanicLevel
	case "PANIC":
		return zapcore.PanicLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func formatFromEnv(defaultFormat LogFormat) LogFormat {
	format := LogFormat(strings.ToUpper(os.Getenv(envFormat)))
	if format != FormatConsole && format != FormatJSON {
		return defaultFormat
	}

	return format
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New creates a zap logger writing to stdout with the given level and format.
func New(level string, format LogFormat) *zap.Logger {
	return newWithLevel(zap.NewAtomicLevelAt(ParseLevel(level)), format)
}

func newWithLevel(level zap.AtomicLevel, format LogFormat) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	if format == FormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)

	return zap.New(core, zap.AddCaller())
}

// SetLevel sets the level of the global logger. Called before Initialize it
// also takes precedence over LOGGING_LEVEL.
func SetLevel(level string) {
	levelOverride = level
	globalLevel.SetLevel(ParseLevel(level))
}

// Initialize sets up the global logger from LOGGING_LEVEL and LOGGING_FORMAT
// and installs it with zap.ReplaceGlobals.
func Initialize() {
	initOnce.Do(func() {
		level := os.Getenv(envLevel)
		if levelOverride != "" {
			level = levelOverride
		}

		if level == "" {
			level = "INFO"
		}

		format := formatFromEnv(FormatConsole)
		globalLevel.SetLevel(ParseLevel(level))
		log := newWithLevel(globalLevel, format)
		log.Info("Logger initialized", zap.String("level", level), zap.String("format", string(format)))

		zap.ReplaceGlobals(log)

		initialized = true
	})
}

// GetSugaredLogger returns the global sugared logger, initializing it if needed.
func GetSugaredLogger() *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}

	return zap.S()
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}

// For creates a named logger for a specific component.
func For(component string) *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}

	return zap.S().Named(component)
}
