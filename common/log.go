//  Copyright (c) 2017-2018 Uber Technologies, Inc.
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

package common

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a general logger interface
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	// Log at fatal level, then terminate process (irrecoverable)
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	// Log at panic level, then panic (recoverable)
	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	// With returns a logger carrying the given key/value pairs on every subsequent call.
	With(args ...interface{}) Logger
}

// LoggerFactory creates named loggers. Query and server logs go through separate names
// so they can be routed independently.
type LoggerFactory interface {
	GetDefaultLogger() Logger
	GetLogger(name string) Logger
}

// LogConfig is the static logging configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type zapLoggerFactory struct {
	root *zap.Logger
}

// NewLoggerFactory creates a development zap LoggerFactory used by tests and tools.
func NewLoggerFactory() LoggerFactory {
	return &zapLoggerFactory{root: zap.NewExample()}
}

// NewLoggerFactoryFromConfig creates a production zap LoggerFactory honoring the level in cfg.
func NewLoggerFactoryFromConfig(cfg LogConfig) (LoggerFactory, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	root, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLoggerFactory{root: root}, nil
}

func (f *zapLoggerFactory) GetDefaultLogger() Logger {
	return &ZapLogger{f.root.Sugar()}
}

func (f *zapLoggerFactory) GetLogger(name string) Logger {
	return &ZapLogger{f.root.Named(name).Sugar()}
}

// ZapLogger is wrapper of zap
type ZapLogger struct {
	sugaredLogger *zap.SugaredLogger
}

func (z *ZapLogger) Debug(args ...interface{}) { z.sugaredLogger.Debug(args...) }
func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugaredLogger.Debugf(format, args...)
}
func (z *ZapLogger) Info(args ...interface{})                 { z.sugaredLogger.Info(args...) }
func (z *ZapLogger) Infof(format string, args ...interface{}) { z.sugaredLogger.Infof(format, args...) }
func (z *ZapLogger) Warn(args ...interface{})                 { z.sugaredLogger.Warn(args...) }
func (z *ZapLogger) Warnf(format string, args ...interface{}) { z.sugaredLogger.Warnf(format, args...) }
func (z *ZapLogger) Error(args ...interface{})                { z.sugaredLogger.Error(args...) }
func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugaredLogger.Errorf(format, args...)
}
func (z *ZapLogger) Fatal(args ...interface{}) { z.sugaredLogger.Fatal(args...) }
func (z *ZapLogger) Fatalf(format string, args ...interface{}) {
	z.sugaredLogger.Fatalf(format, args...)
}
func (z *ZapLogger) Panic(args ...interface{}) { z.sugaredLogger.Panic(args...) }
func (z *ZapLogger) Panicf(format string, args ...interface{}) {
	z.sugaredLogger.Panicf(format, args...)
}

// With returns a child logger with the key/value pairs attached.
func (z *ZapLogger) With(args ...interface{}) Logger {
	return &ZapLogger{z.sugaredLogger.With(args...)}
}

// NoopLogger drops everything.
type NoopLogger struct{}

func (NoopLogger) Debug(args ...interface{})                 {}
func (NoopLogger) Debugf(format string, args ...interface{}) {}
func (NoopLogger) Info(args ...interface{})                  {}
func (NoopLogger) Infof(format string, args ...interface{})  {}
func (NoopLogger) Warn(args ...interface{})                  {}
func (NoopLogger) Warnf(format string, args ...interface{})  {}
func (NoopLogger) Error(args ...interface{})                 {}
func (NoopLogger) Errorf(format string, args ...interface{}) {}
func (NoopLogger) Fatal(args ...interface{})                 {}
func (NoopLogger) Fatalf(format string, args ...interface{}) {}
func (NoopLogger) Panic(args ...interface{})                 {}
func (NoopLogger) Panicf(format string, args ...interface{}) {}

// With returns the same noop logger.
func (n NoopLogger) With(args ...interface{}) Logger { return n }
