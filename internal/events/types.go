// Package events defines the engine event taxonomy and the plumbing that
// carries events from the engines to the log, the state file and the
// dashboard.
package events

import "time"

// EventType identifies the category and nature of an event.
type EventType string

const (
	// Run lifecycle
	EventRunStart     EventType = "run.start"
	EventRunStop      EventType = "run.stop"
	EventStateChanged EventType = "run.state_changed"

	// Feed mode
	EventItemViewing  EventType = "feed.viewing"
	EventItemSkipped  EventType = "feed.skipped"
	EventAlignment    EventType = "feed.alignment"
	EventInterruption EventType = "feed.interruption"
	EventStall        EventType = "feed.stall"

	// Reel mode
	EventReelSubscribed EventType = "reel.subscribed"
	EventReelPlay       EventType = "reel.play"
	EventReelAdvance    EventType = "reel.advance"
	EventGateChanged    EventType = "reel.gate"

	// Errors
	EventError EventType = "error"
)

// Source constants identify the component that emitted an event.
const (
	SourceFeed    = "feed"
	SourceReel    = "reel"
	SourceControl = "control"
)

// Run modes.
const (
	ModeFeed = "feed"
	ModeReel = "reel"
)

// Event is the base interface for all events in the system.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"timestamp"`
	Src       string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// Source returns the origin of the event.
func (e BaseEvent) Source() string {
	return e.Src
}

// NewEvent creates a BaseEvent with the given type, source and run.
func NewEvent(eventType EventType, source, runID string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Src:       source,
		RunID:     runID,
	}
}

// RunStartEvent is emitted when an engine run begins.
type RunStartEvent struct {
	BaseEvent
	Mode     string `json:"mode"`
	Resumed  bool   `json:"resumed,omitempty"`
	Index    int    `json:"index"`
	Settings any    `json:"settings,omitempty"`
}

// RunStopEvent is emitted when an engine run ends.
type RunStopEvent struct {
	BaseEvent
	Mode   string `json:"mode"`
	Index  int    `json:"index"`
	Reason string `json:"reason,omitempty"`
}

// StateChangedEvent is emitted on every engine state transition.
type StateChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// ItemViewingEvent is emitted when the feed engine settles on an item and
// starts its dwell.
type ItemViewingEvent struct {
	BaseEvent
	Index int           `json:"index"`
	Media string        `json:"media"`
	Dwell time.Duration `json:"dwell"`
	Total int           `json:"total"`
}

// ItemSkippedEvent is emitted when an item is passed over without a dwell.
type ItemSkippedEvent struct {
	BaseEvent
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Skip reasons.
const (
	SkipNoMedia     = "no_media"
	SkipAlignFailed = "align_failed"
)

// AlignmentEvent reports the outcome of a scroll alignment.
type AlignmentEvent struct {
	BaseEvent
	Index    int     `json:"index"`
	OK       bool    `json:"ok"`
	Soft     bool    `json:"soft,omitempty"`
	Attempts int     `json:"attempts"`
	Ratio    float64 `json:"ratio"`
}

// InterruptionEvent is emitted when a manual position change is committed.
type InterruptionEvent struct {
	BaseEvent
	From int `json:"from"`
	To   int `json:"to"`
}

// StallEvent is emitted when the engine runs past the known items and waits
// for more to render.
type StallEvent struct {
	BaseEvent
	Index int `json:"index"`
	Known int `json:"known"`
}

// ReelSubscribedEvent is emitted when the reel engine attaches to a video.
type ReelSubscribedEvent struct {
	BaseEvent
	Video string `json:"video"`
}

// ReelPlayEvent is emitted when a reel finishes one playback.
type ReelPlayEvent struct {
	BaseEvent
	Video  string `json:"video"`
	Plays  int    `json:"plays"`
	Target int    `json:"target"`
}

// ReelAdvanceEvent is emitted when the reel engine moves to the next video.
type ReelAdvanceEvent struct {
	BaseEvent
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Direction string `json:"direction"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// GateChangedEvent is emitted on overlay pause gate edges.
type GateChangedEvent struct {
	BaseEvent
	Open bool `json:"open"`
}

// Severity constants for error events.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ErrorEvent is emitted for any error condition.
type ErrorEvent struct {
	BaseEvent
	Message  string            `json:"message"`
	Severity string            `json:"severity"`
	Context  map[string]string `json:"context,omitempty"`
}

// Run returns the ID of the run that emitted the event.
func (e BaseEvent) Run() string {
	return e.RunID
}
