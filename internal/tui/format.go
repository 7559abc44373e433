package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/scrollpilot/internal/events"
)

// StyleForEvent returns the appropriate style for an event type.
func StyleForEvent(event events.Event) lipgloss.Style {
	if event == nil {
		return styles.Feed
	}

	switch e := event.(type) {
	case *events.RunStartEvent, *events.RunStopEvent:
		return styles.Run
	case *events.StateChangedEvent, *events.StallEvent:
		return styles.Muted
	case *events.ItemSkippedEvent, *events.InterruptionEvent:
		return styles.Warning
	case *events.AlignmentEvent:
		if !e.OK {
			return styles.Warning
		}
		return styles.Muted
	case *events.ReelSubscribedEvent, *events.ReelPlayEvent, *events.ReelAdvanceEvent, *events.GateChangedEvent:
		return styles.Reel
	case *events.ErrorEvent:
		if e.Severity == events.SeverityWarning {
			return styles.Warning
		}
		return styles.Error
	default:
		return styles.Feed
	}
}
