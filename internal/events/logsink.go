package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink consumes events from the router.
type Sink interface {
	Start(ctx context.Context, events <-chan Event) error
	Stop() error
}

// Rotation bounds the size and retention of the event log.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogSink writes events to a JSON lines file. Each daemon start begins a
// fresh file; earlier runs are kept as timestamped backups.
type LogSink struct {
	path    string
	writer  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
	done    chan struct{}
}

// NewLogSink creates a LogSink writing to path with the given rotation.
func NewLogSink(path string, rotation Rotation) *LogSink {
	return &LogSink{
		path: path,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAgeDays,
			Compress:   rotation.Compress,
		},
		done: make(chan struct{}),
	}
}

// Start opens the log file and begins processing events.
// It runs until the context is canceled or the events channel is closed.
func (s *LogSink) Start(ctx context.Context, events <-chan Event) error {
	if err := s.rotateExisting(); err != nil {
		return err
	}

	s.mu.Lock()
	s.encoder = json.NewEncoder(s.writer)
	s.mu.Unlock()

	go s.run(ctx, events)
	return nil
}

// rotateExisting moves a non-empty log from a previous daemon aside so that
// followers see a fresh file.
func (s *LogSink) rotateExisting() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat event log: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	if err := s.writer.Rotate(); err != nil {
		return fmt.Errorf("rotate event log: %w", err)
	}
	return nil
}

func (s *LogSink) run(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.write(event)
		}
	}
}

func (s *LogSink) write(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder == nil {
		return
	}
	if err := s.encoder.Encode(event); err != nil {
		slog.Warn("event log write failed", "type", event.Type(), "error", err)
	}
}

// Stop waits for the run goroutine and closes the log file.
func (s *LogSink) Stop() error {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoder = nil
	return s.writer.Close()
}

// Path returns the log file path.
func (s *LogSink) Path() string {
	return s.path
}
