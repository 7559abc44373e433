package events

import (
	"strings"
	"testing"
	"time"
)

func TestFormat_AllEventTypes(t *testing.T) {
	now := time.Now()
	base := func(typ EventType, src string) BaseEvent {
		return BaseEvent{EventType: typ, Time: now, Src: src}
	}

	tests := []struct {
		name     string
		event    Event
		contains []string
	}{
		{
			name:     "nil event",
			event:    nil,
			contains: nil,
		},
		{
			name:     "run start",
			event:    &RunStartEvent{BaseEvent: base(EventRunStart, SourceFeed), Mode: ModeFeed},
			contains: []string{"feed run started"},
		},
		{
			name:     "run resumed",
			event:    &RunStartEvent{BaseEvent: base(EventRunStart, SourceFeed), Mode: ModeFeed, Resumed: true, Index: 4},
			contains: []string{"resumed", "item 4"},
		},
		{
			name:     "run stop with reason",
			event:    &RunStopEvent{BaseEvent: base(EventRunStop, SourceReel), Mode: ModeReel, Reason: "user"},
			contains: []string{"reel run stopped: user"},
		},
		{
			name:     "state change",
			event:    &StateChangedEvent{BaseEvent: base(EventStateChanged, SourceFeed), From: "advancing", To: "waiting"},
			contains: []string{"advancing -> waiting"},
		},
		{
			name:     "viewing",
			event:    &ItemViewingEvent{BaseEvent: base(EventItemViewing, SourceFeed), Index: 2, Media: "image", Dwell: 3 * time.Second, Total: 9},
			contains: []string{"item 3/9", "image", "3s"},
		},
		{
			name:     "skipped",
			event:    &ItemSkippedEvent{BaseEvent: base(EventItemSkipped, SourceFeed), Index: 5, Reason: SkipNoMedia},
			contains: []string{"item 5 skipped", "no_media"},
		},
		{
			name:     "alignment ok",
			event:    &AlignmentEvent{BaseEvent: base(EventAlignment, SourceFeed), Index: 1, OK: true, Ratio: 0.95},
			contains: []string{"aligned item 1"},
		},
		{
			name:     "alignment soft",
			event:    &AlignmentEvent{BaseEvent: base(EventAlignment, SourceFeed), Index: 1, OK: true, Soft: true, Ratio: 0.66},
			contains: []string{"soft", "66%"},
		},
		{
			name:     "alignment failed",
			event:    &AlignmentEvent{BaseEvent: base(EventAlignment, SourceFeed), Index: 2, Attempts: 3, Ratio: 0.6},
			contains: []string{"[x]", "item 2", "3 attempts"},
		},
		{
			name:     "interruption",
			event:    &InterruptionEvent{BaseEvent: base(EventInterruption, SourceFeed), From: 0, To: 3},
			contains: []string{"manual scroll: 0 -> 3"},
		},
		{
			name:     "stall",
			event:    &StallEvent{BaseEvent: base(EventStall, SourceFeed), Index: 7, Known: 7},
			contains: []string{"waiting for item 7", "7 known"},
		},
		{
			name:     "reel play",
			event:    &ReelPlayEvent{BaseEvent: base(EventReelPlay, SourceReel), Plays: 1, Target: 2},
			contains: []string{"play 1/2"},
		},
		{
			name:     "reel fallback",
			event:    &ReelAdvanceEvent{BaseEvent: base(EventReelAdvance, SourceReel), Direction: "up", Fallback: true},
			contains: []string{"scrolled up one screen"},
		},
		{
			name:     "gate open",
			event:    &GateChangedEvent{BaseEvent: base(EventGateChanged, SourceReel), Open: true},
			contains: []string{"paused"},
		},
		{
			name:     "error defaults severity",
			event:    &ErrorEvent{BaseEvent: base(EventError, SourceControl), Message: "page closed"},
			contains: []string{"ERROR: page closed"},
		},
		{
			name:     "warning",
			event:    &ErrorEvent{BaseEvent: base(EventError, SourceControl), Message: "slow", Severity: SeverityWarning},
			contains: []string{"WARNING: slow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.event)
			if tt.contains == nil && got != "" {
				t.Errorf("Format() = %q, want empty", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Format() = %q, want to contain %q", got, want)
				}
			}
		})
	}
}

func TestFormatWithTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)

	t.Run("known event", func(t *testing.T) {
		e := &StallEvent{BaseEvent: BaseEvent{EventType: EventStall, Time: ts}, Index: 1, Known: 1}
		got := FormatWithTimestamp(e)
		if !strings.HasPrefix(got, "[14:30:45] waiting") {
			t.Errorf("FormatWithTimestamp() = %q", got)
		}
	})

	t.Run("unknown event falls back to type", func(t *testing.T) {
		e := &BaseEvent{EventType: "custom.thing", Time: ts}
		if got := FormatWithTimestamp(e); got != "[14:30:45] custom.thing" {
			t.Errorf("FormatWithTimestamp() = %q", got)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if got := FormatWithTimestamp(nil); got != "" {
			t.Errorf("FormatWithTimestamp(nil) = %q", got)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 8, "hello..."},
		{"tiny max", "hello", 2, "..."},
		{"sanitized first", "a\nb", 10, "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSafeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"ansi", "\x1b[31mred\x1b[0m", "red"},
		{"newlines", "a\r\nb", "a b"},
		{"control", "a\x07b", "ab"},
		{"spaces", "  a    b  ", "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeString(tt.input); got != tt.want {
				t.Errorf("SafeString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
