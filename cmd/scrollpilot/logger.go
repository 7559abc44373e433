package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/npratt/scrollpilot/internal/config"
)

// FileLoggerResult holds a logger writing to a rotating file.
type FileLoggerResult struct {
	Logger   *slog.Logger
	LogFile  io.WriteCloser
	FilePath string
}

// Close closes the log file if it was opened.
func (r *FileLoggerResult) Close() error {
	if r.LogFile != nil {
		return r.LogFile.Close()
	}
	return nil
}

// SetupFileLogger creates a JSON logger that writes to path instead of
// stderr. The dashboard and the detached daemon both log this way: the
// first because stderr would corrupt the display, the second because it
// has no stderr at all.
func SetupFileLogger(path string, level slog.Leveler, rotationCfg config.LogRotationConfig) (*FileLoggerResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotationCfg.MaxSizeMB,
		MaxBackups: rotationCfg.MaxBackups,
		MaxAge:     rotationCfg.MaxAgeDays,
		Compress:   rotationCfg.Compress,
	}

	return &FileLoggerResult{
		Logger:   SetupLoggerWithWriter(writer, level),
		LogFile:  writer,
		FilePath: path,
	}, nil
}

// SetupLoggerWithWriter creates a JSON logger that writes to w.
func SetupLoggerWithWriter(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
