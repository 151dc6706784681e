// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/lumberjack"

	"github.com/bureau-foundation/anvilgate/proxy"
)

// newLogger builds the process logger: JSON to stderr, and additionally
// to a rotated file when configured. The returned function closes the
// file.
func newLogger(config proxy.LogConfig) (*slog.Logger, func()) {
	var output io.Writer = os.Stderr
	closeLog := func() {}

	if config.File != "" {
		file := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
		}
		output = io.MultiWriter(os.Stderr, file)
		closeLog = func() { file.Close() }
	}

	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(config.Level),
	})), closeLog
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
