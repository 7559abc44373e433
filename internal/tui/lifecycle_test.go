package tui

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/events"
)

// TestTUILifecycleSmoke verifies the full bubbletea program lifecycle:
// start, receive events, handle keyboard input, and quit cleanly.
// This test uses teatest to run the TUI headlessly without a real TTY.
func TestTUILifecycleSmoke(t *testing.T) {
	eventChan := make(chan events.Event, 10)
	eventChan <- &events.RunStartEvent{
		BaseEvent: events.NewEvent(events.EventRunStart, events.SourceFeed, "run-1"),
		Mode:      events.ModeFeed,
	}

	var quitCalled atomic.Bool
	m := newModel(eventChan, nil, nil, func() { quitCalled.Store(true) }, nil)

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("feed run started"))
	}, teatest.WithDuration(3*time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyDown})
	tm.Send(tea.KeyMsg{Type: tea.KeyUp})
	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	fm := tm.FinalModel(t, teatest.WithFinalTimeout(5*time.Second))
	final, ok := fm.(model)
	if !ok {
		t.Fatalf("final model is %T", fm)
	}
	if final.status != statusRunning {
		t.Errorf("final status = %q, want %q", final.status, statusRunning)
	}
	if !quitCalled.Load() {
		t.Error("quit callback was not invoked")
	}

	close(eventChan)
}

// TestTUILifecycleStopKey verifies that 's' runs the stop callback and the
// following status poll updates the header.
func TestTUILifecycleStopKey(t *testing.T) {
	eventChan := make(chan events.Event, 10)

	var running atomic.Bool
	running.Store(true)
	var stopCalls atomic.Int32

	statusFn := func() (control.Status, error) {
		return control.Status{Running: running.Load(), Mode: control.ModeFeed, Index: 2, Items: 9}, nil
	}
	onStop := func() {
		stopCalls.Add(1)
		running.Store(false)
	}

	m := newModel(eventChan, onStop, nil, nil, statusFn)
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("item 3/9"))
	}, teatest.WithDuration(3*time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("IDLE"))
	}, teatest.WithDuration(3*time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
	fm := tm.FinalModel(t, teatest.WithFinalTimeout(5*time.Second))

	if got := stopCalls.Load(); got != 1 {
		t.Errorf("stop called %d times, want 1", got)
	}
	if final := fm.(model); final.status != statusIdle {
		t.Errorf("final status = %q, want %q", final.status, statusIdle)
	}

	close(eventChan)
}

// TestTUILifecycleChannelClose verifies the program exits when the event
// stream ends.
func TestTUILifecycleChannelClose(t *testing.T) {
	eventChan := make(chan events.Event)
	m := newModel(eventChan, nil, nil, nil, nil)

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))
	close(eventChan)

	fm := tm.FinalModel(t, teatest.WithFinalTimeout(5*time.Second))
	if fm == nil {
		t.Fatal("FinalModel returned nil")
	}
}
