package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// followPoll rereads the log even without a watcher notification, for
// filesystems where fsnotify delivers nothing.
const followPoll = time.Second

// Last returns up to n of the most recent events in the log at path. A
// negative n returns every event. Lines that are not known events are
// skipped.
func Last(path string, n int) ([]Event, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	f := &follower{path: path}
	defer f.close()

	lines, err := f.drain()
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return parseLines(lines, n, slog.Default()), nil
}

// Follow streams the events of the log at path, starting with up to backlog
// events already written (negative for all). It keeps following across
// rotation and waits for the file if it does not exist yet. The channel is
// closed when ctx is done.
func Follow(ctx context.Context, path string, backlog int, logger *slog.Logger) (<-chan Event, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the parent directory since the file may not exist yet
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch directory %s: %w", dir, err)
	}

	f := &follower{path: path}
	initial, err := f.drain()
	if err != nil {
		f.close()
		_ = watcher.Close()
		return nil, fmt.Errorf("read event log: %w", err)
	}

	out := make(chan Event, DefaultBufferSize)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()
		defer f.close()

		send := func(evs []Event) bool {
			for _, ev := range evs {
				select {
				case out <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		if !send(parseLines(initial, backlog, logger)) {
			return
		}

		ticker := time.NewTicker(followPoll)
		defer ticker.Stop()
		target := filepath.Base(path)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("event log watcher error", "error", err)
				continue
			case <-ticker.C:
			}

			lines, err := f.drain()
			if err != nil {
				logger.Warn("read event log failed", "path", path, "error", err)
			}
			if !send(parseLines(lines, -1, logger)) {
				return
			}
		}
	}()

	return out, nil
}

// parseLines decodes event lines and keeps the last n (all when n < 0).
func parseLines(lines [][]byte, n int, logger *slog.Logger) []Event {
	if n == 0 {
		return nil
	}
	evs := make([]Event, 0, len(lines))
	for _, line := range lines {
		ev, err := ParseEvent(line)
		if err != nil {
			logger.Debug("skipping malformed event line", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		evs = append(evs, ev)
	}
	if n > 0 && len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	return evs
}

// follower reads complete lines appended to a file, reopening it when the
// path is replaced or truncated.
type follower struct {
	path    string
	file    *os.File
	offset  int64
	partial []byte
}

// drain returns the complete lines written since the previous call. A
// missing file yields no lines.
func (f *follower) drain() ([][]byte, error) {
	var lines [][]byte

	if f.file != nil {
		fileInfo, err := f.file.Stat()
		if err != nil {
			return nil, err
		}
		pathInfo, err := os.Stat(f.path)
		switch {
		case err != nil || !os.SameFile(fileInfo, pathInfo):
			// Rotated away: finish the old file, then pick up the new one
			rest, err := f.readLines()
			if err != nil {
				return nil, err
			}
			lines = append(lines, rest...)
			f.close()
		case pathInfo.Size() < f.offset:
			// Truncated in place
			if _, err := f.file.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			f.offset = 0
			f.partial = nil
		}
	}

	if f.file == nil {
		file, err := os.Open(f.path)
		if err != nil {
			if os.IsNotExist(err) {
				return lines, nil
			}
			return lines, err
		}
		f.file = file
		f.offset = 0
		f.partial = nil
	}

	more, err := f.readLines()
	return append(lines, more...), err
}

func (f *follower) readLines() ([][]byte, error) {
	data, err := io.ReadAll(f.file)
	if err != nil {
		return nil, err
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(buf[:i]); len(line) > 0 {
			lines = append(lines, line)
		}
		buf = buf[i+1:]
	}
	f.partial = append([]byte(nil), buf...)
	return lines, nil
}

func (f *follower) close() {
	if f.file != nil {
		_ = f.file.Close()
		f.file = nil
	}
}
