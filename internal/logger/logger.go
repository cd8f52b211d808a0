// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package logger wraps log/slog behind a package-level default logger
// configured once at startup from cfg.LoggingConfig, plus
// Infof/Warnf/Errorf/Debugf convenience wrappers so call sites don't have
// to build slog.Attr values for a one-line message.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var (
	mu      sync.Mutex
	handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	base                 = slog.New(handler)

	// traceEnabled gates Tracef, which slog itself has no level for.
	traceEnabled atomic.Bool
)

// Severity mirrors cfg.LoggingConfig.Severity without importing cfg, so
// that logger depends on no other package of this module.
type Severity string

const (
	Trace   Severity = "TRACE"
	Debug   Severity = "DEBUG"
	Info    Severity = "INFO"
	Warning Severity = "WARNING"
	Error   Severity = "ERROR"
	Off     Severity = "OFF"
)

var levels = map[Severity]slog.Level{
	Debug:   slog.LevelDebug,
	Info:    slog.LevelInfo,
	Warning: slog.LevelWarn,
	Error:   slog.LevelError,
}

// Init (re)configures the default logger. Called once at process startup
// after cfg has been parsed; safe to call again in tests.
func Init(severity Severity, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		w = os.Stderr
	}

	traceEnabled.Store(severity == Trace)

	level, ok := levels[severity]
	if !ok {
		if severity == Trace {
			level = slog.LevelDebug
		} else {
			// Off, or anything unrecognized: log nothing, not even the
			// ERROR line Fatal writes; Fatal still exits the process.
			level = slog.LevelError + 1
		}
	}

	handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	base = slog.New(handler)
}

func Tracef(format string, args ...any) {
	if traceEnabled.Load() {
		base.Debug(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) { base.Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...any)  { base.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { base.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { base.Error(fmt.Sprintf(format, args...)) }

func Debug(msg string) { base.Debug(msg) }
func Info(msg string)  { base.Info(msg) }
func Warn(msg string)  { base.Warn(msg) }
func Error(msg string) { base.Error(msg) }

// Fatal logs msg at ERROR and terminates the process with exit code -1, the
// contract for kernel-asserted invariant violations (bad inode magic,
// lock-count underflow) per the error-handling design.
func Fatal(msg string) {
	base.Error(msg)
	os.Exit(255) // -1 as an unsigned exit code
}

func Fatalf(format string, args ...any) {
	Fatal(fmt.Sprintf(format, args...))
}
