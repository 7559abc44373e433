package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateBufferSize is the recommended buffer size for state sink subscriptions.
const StateBufferSize = 1000

// CurrentStateVersion is the current state file format version.
// Increment this when making incompatible changes to the State struct.
const CurrentStateVersion = 1

// Run status values recorded in the state file.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// State is the persisted run state. It survives daemon restarts so that a
// feed run can be resumed where it stopped with the settings last used.
type State struct {
	Version int    `json:"version"`
	Status  string `json:"status"`
	Phase   string `json:"phase,omitempty"`
	Mode    string `json:"mode,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	// Index is the feed position. It is kept across runs so resume can
	// restore it.
	Index         int `json:"index"`
	Viewed        int `json:"viewed"`
	Skipped       int `json:"skipped"`
	Interruptions int `json:"interruptions"`
	ReelAdvances  int `json:"reel_advances"`
	// Last settings used per mode, as emitted on run start.
	FeedSettings json.RawMessage `json:"feed_settings,omitempty"`
	ReelSettings json.RawMessage `json:"reel_settings,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DefaultMinSaveDelay is the minimum time between saves.
const DefaultMinSaveDelay = 2 * time.Second

// StateSink persists State to a JSON file.
type StateSink struct {
	path     string
	state    *State
	dirty    bool
	mu       sync.Mutex
	done     chan struct{}
	lastSave time.Time
	minDelay time.Duration
}

// NewStateSink creates a new StateSink that writes to the specified path.
func NewStateSink(path string) *StateSink {
	return &StateSink{
		path:     path,
		state:    newState(),
		done:     make(chan struct{}),
		minDelay: DefaultMinSaveDelay,
	}
}

func newState() *State {
	return &State{Version: CurrentStateVersion, Status: StatusIdle}
}

// Start ensures the directory exists, loads existing state, and begins processing events.
func (s *StateSink) Start(ctx context.Context, events <-chan Event) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load state: %w", err)
	}

	// A run recorded as active did not survive the previous daemon.
	s.mu.Lock()
	if s.state.Status == StatusRunning {
		s.state.Status = StatusStopped
		s.state.Phase = ""
		s.dirty = true
	}
	s.mu.Unlock()

	go s.run(ctx, events)
	return nil
}

func (s *StateSink) run(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.flushIfDirty()
			return
		case event, ok := <-events:
			if !ok {
				s.flushIfDirty()
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *StateSink) handleEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case *RunStartEvent:
		s.state.Status = StatusRunning
		s.state.Mode = e.Mode
		s.state.RunID = e.RunID
		s.state.Phase = ""
		if e.Mode == ModeFeed {
			s.state.Index = e.Index
			if !e.Resumed {
				s.state.Viewed = 0
				s.state.Skipped = 0
				s.state.Interruptions = 0
			}
		} else {
			s.state.ReelAdvances = 0
		}
		if e.Settings != nil {
			if raw, err := json.Marshal(e.Settings); err == nil {
				if e.Mode == ModeReel {
					s.state.ReelSettings = raw
				} else {
					s.state.FeedSettings = raw
				}
			}
		}
		s.dirty = true

	case *StateChangedEvent:
		s.state.Phase = e.To
		s.dirty = true

	case *ItemViewingEvent:
		s.state.Index = e.Index
		s.state.Viewed++
		s.dirty = true

	case *ItemSkippedEvent:
		s.state.Index = e.Index + 1
		s.state.Skipped++
		s.dirty = true

	case *InterruptionEvent:
		s.state.Index = e.To
		s.state.Interruptions++
		s.dirty = true

	case *ReelAdvanceEvent:
		s.state.ReelAdvances++
		s.dirty = true

	case *RunStopEvent:
		s.state.Status = StatusStopped
		s.state.Phase = ""
		if e.Mode == ModeFeed {
			s.state.Index = e.Index
		}
		s.dirty = true
		s.saveUnlocked()
		return
	}

	if s.dirty && time.Since(s.lastSave) >= s.minDelay {
		s.saveUnlocked()
	}
}

func (s *StateSink) saveUnlocked() {
	s.state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		slog.Warn("state sink marshal failed", "error", err)
		return
	}

	// Atomic write: temp file + rename
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		slog.Warn("state sink write failed", "path", tmpPath, "error", err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		slog.Warn("state sink rename failed", "path", s.path, "error", err)
		return
	}

	s.dirty = false
	s.lastSave = time.Now()
}

func (s *StateSink) flushIfDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.saveUnlocked()
	}
}

// Stop waits for the run goroutine to finish. Pending changes are flushed
// when the goroutine exits.
func (s *StateSink) Stop() error {
	<-s.done
	return nil
}

// Load reads the state file from disk.
// If the version is missing or incompatible, the old state is backed up and a fresh state is used.
func (s *StateSink) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		if backupErr := s.backupStateFile(); backupErr != nil {
			slog.Warn("state file corrupted, failed to backup",
				"path", s.path,
				"error", err,
				"backup_error", backupErr)
		} else {
			slog.Warn("state file corrupted, backed up and starting fresh",
				"path", s.path,
				"error", err)
		}
		s.state = newState()
		return nil
	}

	if state.Version != CurrentStateVersion {
		if backupErr := s.backupStateFile(); backupErr != nil {
			slog.Warn("incompatible state version, failed to backup",
				"path", s.path,
				"file_version", state.Version,
				"current_version", CurrentStateVersion,
				"backup_error", backupErr)
		} else {
			slog.Warn("incompatible state version, backed up and starting fresh",
				"path", s.path,
				"file_version", state.Version,
				"current_version", CurrentStateVersion)
		}
		s.state = newState()
		return nil
	}

	if state.Status == "" {
		state.Status = StatusIdle
	}
	s.state = &state
	return nil
}

// backupStateFile moves the current state file to a .backup file.
// Must be called with s.mu held.
func (s *StateSink) backupStateFile() error {
	return os.Rename(s.path, s.path+".backup")
}

// State returns a copy of the current state.
func (s *StateSink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// Path returns the state file path.
func (s *StateSink) Path() string {
	return s.path
}

// SetMinDelay sets the minimum delay between saves (for testing).
func (s *StateSink) SetMinDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minDelay = d
}
