package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/events"
)

func keyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func TestHandleKey_Quit(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"q key", "q"},
		{"ctrl+c", "ctrl+c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quitCalled := false
			m := model{
				status: statusIdle,
				onQuit: func() { quitCalled = true },
			}

			_, cmd := m.handleKey(keyMsg(tt.key))

			if !quitCalled {
				t.Error("onQuit callback should be called")
			}
			if cmd == nil {
				t.Error("should return tea.Quit command")
			}
		})
	}
}

func TestHandleKey_Stop(t *testing.T) {
	stopCalled := false
	polled := false
	m := model{
		status: statusRunning,
		onStop: func() { stopCalled = true },
		statusFn: func() (control.Status, error) {
			polled = true
			return control.Status{}, nil
		},
	}

	newM, cmd := m.handleKey(keyMsg("s"))

	if newM.(model).status != statusStopping {
		t.Errorf("status should be %q, got %q", statusStopping, newM.(model).status)
	}
	if cmd == nil {
		t.Fatal("should return the stop command")
	}
	if stopCalled {
		t.Error("onStop should run in the command, not in Update")
	}

	msg := cmd()
	if !stopCalled {
		t.Error("onStop callback should be called by the command")
	}
	if !polled {
		t.Error("status should be polled after stop")
	}
	if _, ok := msg.(statusMsg); !ok {
		t.Errorf("command returned %T, want statusMsg", msg)
	}
}

func TestHandleKey_Resume(t *testing.T) {
	resumeCalled := false
	m := model{
		status:   statusStopped,
		onResume: func() { resumeCalled = true },
	}

	newM, cmd := m.handleKey(keyMsg("r"))

	if newM.(model).status != statusResuming {
		t.Errorf("status should be %q, got %q", statusResuming, newM.(model).status)
	}
	if cmd == nil {
		t.Fatal("should return the resume command")
	}
	if msg := cmd(); msg != nil {
		t.Errorf("command without status provider returned %T, want nil", msg)
	}
	if !resumeCalled {
		t.Error("onResume callback should be called")
	}
}

func TestHandleKey_NoCallbacks(t *testing.T) {
	m := model{status: statusRunning}

	for _, key := range []string{"s", "r"} {
		newM, cmd := m.handleKey(keyMsg(key))
		if cmd != nil {
			t.Errorf("%s: expected no command without callback", key)
		}
		if newM.(model).status != statusRunning {
			t.Errorf("%s: status changed to %q", key, newM.(model).status)
		}
	}
}

func TestHandleKey_Scroll(t *testing.T) {
	m := model{height: 20, autoScroll: true}
	for i := 0; i < 30; i++ {
		m.eventLines = append(m.eventLines, eventLine{Text: "line"})
	}
	m.scrollPos = 5

	newM, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyUp})
	m = newM.(model)
	if m.scrollPos != 4 {
		t.Errorf("scrollPos after up = %d, want 4", m.scrollPos)
	}
	if m.autoScroll {
		t.Error("scrolling up should disable auto-scroll")
	}

	newM, _ = m.handleKey(keyMsg("G"))
	m = newM.(model)
	if want := 30 - m.visibleLines(); m.scrollPos != want {
		t.Errorf("scrollPos after G = %d, want %d", m.scrollPos, want)
	}
	if !m.autoScroll {
		t.Error("G should enable auto-scroll")
	}

	newM, _ = m.handleKey(keyMsg("g"))
	m = newM.(model)
	if m.scrollPos != 0 {
		t.Errorf("scrollPos after g = %d, want 0", m.scrollPos)
	}

	newM, _ = m.handleKey(keyMsg("j"))
	m = newM.(model)
	if m.scrollPos != 1 {
		t.Errorf("scrollPos after j = %d, want 1", m.scrollPos)
	}
}

func TestHandleEvent_FeedRun(t *testing.T) {
	m := newModel(nil, nil, nil, nil, nil)
	m.height = 20

	m.handleEvent(&events.RunStartEvent{
		BaseEvent: events.NewEvent(events.EventRunStart, events.SourceFeed, "run-1"),
		Mode:      events.ModeFeed,
	})
	if m.status != statusRunning || m.mode != events.ModeFeed {
		t.Errorf("after start: status=%q mode=%q", m.status, m.mode)
	}
	if m.runStart.IsZero() {
		t.Error("run start time not recorded")
	}

	m.handleEvent(&events.StateChangedEvent{
		BaseEvent: events.NewEvent(events.EventStateChanged, events.SourceFeed, "run-1"),
		From:      "aligning",
		To:        "viewing",
	})
	m.handleEvent(&events.ItemViewingEvent{
		BaseEvent: events.NewEvent(events.EventItemViewing, events.SourceFeed, "run-1"),
		Index:     4,
		Media:     "video",
		Dwell:     12 * time.Second,
	})
	m.handleEvent(&events.ItemSkippedEvent{
		BaseEvent: events.NewEvent(events.EventItemSkipped, events.SourceFeed, "run-1"),
		Index:     5,
		Reason:    events.SkipNoMedia,
	})
	m.handleEvent(&events.InterruptionEvent{
		BaseEvent: events.NewEvent(events.EventInterruption, events.SourceFeed, "run-1"),
		From:      5,
		To:        9,
	})

	if m.phase != "viewing" {
		t.Errorf("phase = %q, want viewing", m.phase)
	}
	if m.current != "item 5 (video) for 12s" {
		t.Errorf("current = %q", m.current)
	}
	if m.stats.Viewed != 1 || m.stats.Skipped != 1 || m.stats.Interruptions != 1 {
		t.Errorf("stats = %+v", m.stats)
	}
	if len(m.eventLines) != 5 {
		t.Errorf("event lines = %d, want 5", len(m.eventLines))
	}

	m.handleEvent(&events.RunStopEvent{
		BaseEvent: events.NewEvent(events.EventRunStop, events.SourceFeed, "run-1"),
		Mode:      events.ModeFeed,
		Reason:    "stopped",
	})
	if m.status != statusStopped || m.phase != "" || m.current != "" {
		t.Errorf("after stop: status=%q phase=%q current=%q", m.status, m.phase, m.current)
	}
}

func TestHandleEvent_ReelRun(t *testing.T) {
	m := newModel(nil, nil, nil, nil, nil)

	m.handleEvent(&events.ReelSubscribedEvent{
		BaseEvent: events.NewEvent(events.EventReelSubscribed, events.SourceReel, "run-2"),
		Video:     "v1",
	})
	if m.current != "reel v1" {
		t.Errorf("current = %q, want %q", m.current, "reel v1")
	}

	m.handleEvent(&events.GateChangedEvent{
		BaseEvent: events.NewEvent(events.EventGateChanged, events.SourceReel, "run-2"),
		Open:      true,
	})
	if !m.gateOpen {
		t.Error("gate should be open")
	}

	m.handleEvent(&events.ReelPlayEvent{
		BaseEvent: events.NewEvent(events.EventReelPlay, events.SourceReel, "run-2"),
		Video:     "v1",
		Plays:     1,
		Target:    2,
	})
	if m.current != "reel v1 play 1/2" {
		t.Errorf("current = %q", m.current)
	}

	m.handleEvent(&events.ReelAdvanceEvent{
		BaseEvent: events.NewEvent(events.EventReelAdvance, events.SourceReel, "run-2"),
		From:      "v1",
		To:        "v2",
		Direction: "down",
	})
	m.handleEvent(&events.ErrorEvent{
		BaseEvent: events.NewEvent(events.EventError, events.SourceReel, "run-2"),
		Message:   "video detached",
		Severity:  events.SeverityWarning,
	})
	if m.stats.Advances != 1 || m.stats.Errors != 1 {
		t.Errorf("stats = %+v", m.stats)
	}
}

func TestHandleEvent_SanitizesPageText(t *testing.T) {
	m := newModel(nil, nil, nil, nil, nil)
	m.handleEvent(&events.ReelSubscribedEvent{
		BaseEvent: events.NewEvent(events.EventReelSubscribed, events.SourceReel, ""),
		Video:     "v\x1b[31m1\n" + strings.Repeat("x", 200),
	})

	if strings.ContainsAny(m.current, "\x1b\n") {
		t.Errorf("current contains control characters: %q", m.current)
	}
	if len(m.current) > maxCurrentLength {
		t.Errorf("current length = %d, want <= %d", len(m.current), maxCurrentLength)
	}
}

func TestHandleEvent_TrimsBuffer(t *testing.T) {
	m := newModel(nil, nil, nil, nil, nil)
	m.height = 20

	for i := 0; i < maxEventLines+1; i++ {
		m.handleEvent(&events.StallEvent{
			BaseEvent: events.NewEvent(events.EventStall, events.SourceFeed, ""),
			Index:     i,
		})
	}

	if want := maxEventLines + 1 - trimEventLines; len(m.eventLines) != want {
		t.Errorf("event lines = %d, want %d", len(m.eventLines), want)
	}
	if want := len(m.eventLines) - m.visibleLines(); m.scrollPos != want {
		t.Errorf("scrollPos = %d, want %d (auto-scrolled)", m.scrollPos, want)
	}
}

func TestHandleStatus(t *testing.T) {
	started := time.Now().Add(-time.Minute)

	tests := []struct {
		name       string
		start      string
		msg        statusMsg
		wantStatus string
	}{
		{
			name:       "running",
			start:      statusIdle,
			msg:        statusMsg{status: control.Status{Running: true, Mode: control.ModeReel, StartedAt: started}},
			wantStatus: statusRunning,
		},
		{
			name:       "idle after stopping",
			start:      statusStopping,
			msg:        statusMsg{status: control.Status{}},
			wantStatus: statusIdle,
		},
		{
			name:       "stopped stays stopped",
			start:      statusStopped,
			msg:        statusMsg{status: control.Status{}},
			wantStatus: statusStopped,
		},
		{
			name:       "poll error",
			start:      statusRunning,
			msg:        statusMsg{err: errors.New("daemon not running")},
			wantStatus: statusDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model{status: tt.start}
			m.handleStatus(tt.msg)
			if m.status != tt.wantStatus {
				t.Errorf("status = %q, want %q", m.status, tt.wantStatus)
			}
		})
	}

	m := model{status: statusIdle}
	m.handleStatus(statusMsg{status: control.Status{Running: true, Mode: control.ModeReel, StartedAt: started, GateOpen: true}})
	if m.mode != "reel" || !m.runStart.Equal(started) || !m.gateOpen {
		t.Errorf("running poll not applied: mode=%q start=%v gate=%v", m.mode, m.runStart, m.gateOpen)
	}

	m.handleStatus(statusMsg{err: errors.New("boom")})
	if m.statusErr != "boom" {
		t.Errorf("statusErr = %q, want boom", m.statusErr)
	}
	m.handleStatus(statusMsg{status: control.Status{}})
	if m.statusErr != "" {
		t.Error("statusErr should clear after a successful poll")
	}
}

func TestUpdate_ChannelClosed(t *testing.T) {
	m := newModel(nil, nil, nil, nil, nil)
	_, cmd := m.Update(channelClosedMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closed channel should quit")
	}
}

func TestUpdate_WindowSize(t *testing.T) {
	m := newModel(nil, nil, nil, nil, nil)
	newM, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	got := newM.(model)
	if got.width != 100 || got.height != 30 {
		t.Errorf("size = %dx%d, want 100x30", got.width, got.height)
	}
}

func TestFetchStatus(t *testing.T) {
	if fetchStatus(nil) != nil {
		t.Error("nil provider should give nil command")
	}

	cmd := fetchStatus(func() (control.Status, error) {
		return control.Status{Running: true, Index: 3}, nil
	})
	msg, ok := cmd().(statusMsg)
	if !ok {
		t.Fatal("expected statusMsg")
	}
	if !msg.status.Running || msg.status.Index != 3 {
		t.Errorf("status = %+v", msg.status)
	}
}

func TestPosition(t *testing.T) {
	tests := []struct {
		name string
		st   control.Status
		want string
	}{
		{"feed with count", control.Status{Mode: control.ModeFeed, Index: 2, Items: 10}, "item 3/10"},
		{"feed without count", control.Status{Mode: control.ModeFeed, Index: 0}, "item 1"},
		{"reel", control.Status{Mode: control.ModeReel, Video: "v1", Plays: 2}, "plays 2"},
		{"reel without video", control.Status{Mode: control.ModeReel}, "no reel"},
		{"idle", control.Status{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := position(tt.st); got != tt.want {
				t.Errorf("position() = %q, want %q", got, tt.want)
			}
		})
	}
}
