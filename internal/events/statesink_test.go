package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startStateSink(t *testing.T, path string) (*StateSink, chan Event, context.CancelFunc) {
	t.Helper()
	sink := NewStateSink(path)
	sink.SetMinDelay(0)
	events := make(chan Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	if err := sink.Start(ctx, events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return sink, events, cancel
}

func readState(t *testing.T, path string) State {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return s
}

func TestNewStateSink(t *testing.T) {
	sink := NewStateSink("/tmp/test-state.json")
	if sink.state.Version != CurrentStateVersion {
		t.Errorf("state.Version = %d, want %d", sink.state.Version, CurrentStateVersion)
	}
	if sink.state.Status != StatusIdle {
		t.Errorf("state.Status = %q, want %q", sink.state.Status, StatusIdle)
	}
}

func TestStateSinkCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "state.json")
	sink, _, cancel := startStateSink(t, path)

	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		t.Error("expected directory to be created")
	}

	cancel()
	_ = sink.Stop()
}

func TestStateSinkTracksFeedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sink, events, cancel := startStateSink(t, path)

	events <- &RunStartEvent{
		BaseEvent: NewEvent(EventRunStart, SourceFeed, "run-1"),
		Mode:      ModeFeed,
		Settings:  map[string]any{"image_time": 3000000000, "video_multiplier": 1.5},
	}
	events <- &StateChangedEvent{BaseEvent: NewEvent(EventStateChanged, SourceFeed, "run-1"), From: "initializing", To: "waiting"}
	events <- &ItemViewingEvent{BaseEvent: NewEvent(EventItemViewing, SourceFeed, "run-1"), Index: 0}
	events <- &ItemSkippedEvent{BaseEvent: NewEvent(EventItemSkipped, SourceFeed, "run-1"), Index: 1, Reason: SkipNoMedia}
	events <- &InterruptionEvent{BaseEvent: NewEvent(EventInterruption, SourceFeed, "run-1"), From: 2, To: 5}

	time.Sleep(50 * time.Millisecond)

	state := sink.State()
	if state.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", state.Status, StatusRunning)
	}
	if state.Phase != "waiting" {
		t.Errorf("Phase = %q, want waiting", state.Phase)
	}
	if state.Mode != ModeFeed || state.RunID != "run-1" {
		t.Errorf("Mode/RunID = %q/%q", state.Mode, state.RunID)
	}
	if state.Index != 5 {
		t.Errorf("Index = %d, want 5", state.Index)
	}
	if state.Viewed != 1 || state.Skipped != 1 || state.Interruptions != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", state.Viewed, state.Skipped, state.Interruptions)
	}

	var settings map[string]any
	if err := json.Unmarshal(state.FeedSettings, &settings); err != nil {
		t.Fatalf("decode feed settings: %v", err)
	}
	if settings["video_multiplier"] != 1.5 {
		t.Errorf("video_multiplier = %v, want 1.5", settings["video_multiplier"])
	}

	events <- &RunStopEvent{BaseEvent: NewEvent(EventRunStop, SourceFeed, "run-1"), Mode: ModeFeed, Index: 6}
	time.Sleep(50 * time.Millisecond)

	onDisk := readState(t, path)
	if onDisk.Status != StatusStopped {
		t.Errorf("saved Status = %q, want %q", onDisk.Status, StatusStopped)
	}
	if onDisk.Index != 6 {
		t.Errorf("saved Index = %d, want 6", onDisk.Index)
	}

	cancel()
	_ = sink.Stop()
}

func TestStateSinkResumeKeepsCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sink, events, cancel := startStateSink(t, path)

	events <- &RunStartEvent{BaseEvent: NewEvent(EventRunStart, SourceFeed, "run-1"), Mode: ModeFeed}
	events <- &ItemViewingEvent{BaseEvent: NewEvent(EventItemViewing, SourceFeed, "run-1"), Index: 3}
	events <- &RunStopEvent{BaseEvent: NewEvent(EventRunStop, SourceFeed, "run-1"), Mode: ModeFeed, Index: 3}
	events <- &RunStartEvent{BaseEvent: NewEvent(EventRunStart, SourceFeed, "run-2"), Mode: ModeFeed, Resumed: true, Index: 3}
	time.Sleep(50 * time.Millisecond)

	state := sink.State()
	if state.Viewed != 1 {
		t.Errorf("Viewed = %d, want 1 after resume", state.Viewed)
	}
	if state.Index != 3 || state.RunID != "run-2" {
		t.Errorf("Index/RunID = %d/%q, want 3/run-2", state.Index, state.RunID)
	}

	cancel()
	_ = sink.Stop()
}

func TestStateSinkReelRunKeepsFeedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sink, events, cancel := startStateSink(t, path)

	events <- &RunStartEvent{BaseEvent: NewEvent(EventRunStart, SourceFeed, "run-1"), Mode: ModeFeed}
	events <- &InterruptionEvent{BaseEvent: NewEvent(EventInterruption, SourceFeed, "run-1"), To: 4}
	events <- &RunStopEvent{BaseEvent: NewEvent(EventRunStop, SourceFeed, "run-1"), Mode: ModeFeed, Index: 4}
	events <- &RunStartEvent{
		BaseEvent: NewEvent(EventRunStart, SourceReel, "run-2"),
		Mode:      ModeReel,
		Settings:  map[string]any{"play_count": 2},
	}
	events <- &ReelAdvanceEvent{BaseEvent: NewEvent(EventReelAdvance, SourceReel, "run-2"), Direction: "down"}
	events <- &RunStopEvent{BaseEvent: NewEvent(EventRunStop, SourceReel, "run-2"), Mode: ModeReel}
	time.Sleep(50 * time.Millisecond)

	state := sink.State()
	if state.Index != 4 {
		t.Errorf("Index = %d, want 4 preserved across a reel run", state.Index)
	}
	if state.ReelAdvances != 1 {
		t.Errorf("ReelAdvances = %d, want 1", state.ReelAdvances)
	}
	if len(state.ReelSettings) == 0 {
		t.Error("expected reel settings to be recorded")
	}

	cancel()
	_ = sink.Stop()
}

func TestStateSinkMarksStaleRunStopped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	stale := State{Version: CurrentStateVersion, Status: StatusRunning, Phase: "waiting", Mode: ModeFeed, Index: 8}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	sink, _, cancel := startStateSink(t, path)
	state := sink.State()
	if state.Status != StatusStopped {
		t.Errorf("Status = %q, want %q", state.Status, StatusStopped)
	}
	if state.Index != 8 {
		t.Errorf("Index = %d, want 8", state.Index)
	}

	cancel()
	_ = sink.Stop()
	if readState(t, path).Status != StatusStopped {
		t.Error("expected stopped status to be flushed on exit")
	}
}

func TestStateSinkLoad(t *testing.T) {
	t.Run("corrupted file is backed up", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		sink := NewStateSink(path)
		if err := sink.Load(); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if sink.State().Status != StatusIdle {
			t.Errorf("Status = %q, want fresh state", sink.State().Status)
		}
		if _, err := os.Stat(path + ".backup"); err != nil {
			t.Errorf("expected backup file: %v", err)
		}
	})

	t.Run("incompatible version is backed up", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte(`{"version":99,"status":"stopped","index":4}`), 0o644); err != nil {
			t.Fatal(err)
		}
		sink := NewStateSink(path)
		if err := sink.Load(); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if sink.State().Index != 0 {
			t.Errorf("Index = %d, want 0", sink.State().Index)
		}
		if _, err := os.Stat(path + ".backup"); err != nil {
			t.Errorf("expected backup file: %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		sink := NewStateSink(filepath.Join(t.TempDir(), "absent.json"))
		if err := sink.Load(); !os.IsNotExist(err) {
			t.Errorf("Load() error = %v, want not-exist", err)
		}
	})
}
