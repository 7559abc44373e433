package events

import (
	"encoding/json"
	"log/slog"
)

// eventEnvelope is used for initial JSON parsing to determine event type.
type eventEnvelope struct {
	Type EventType `json:"type"`
}

// ParseEvent parses a JSON line from the event log into a typed Event.
// Returns nil with no error for unknown event types (for forward compatibility).
func ParseEvent(line []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, err
	}

	switch envelope.Type {
	case EventRunStart:
		return decode[RunStartEvent](line)
	case EventRunStop:
		return decode[RunStopEvent](line)
	case EventStateChanged:
		return decode[StateChangedEvent](line)
	case EventItemViewing:
		return decode[ItemViewingEvent](line)
	case EventItemSkipped:
		return decode[ItemSkippedEvent](line)
	case EventAlignment:
		return decode[AlignmentEvent](line)
	case EventInterruption:
		return decode[InterruptionEvent](line)
	case EventStall:
		return decode[StallEvent](line)
	case EventReelSubscribed:
		return decode[ReelSubscribedEvent](line)
	case EventReelPlay:
		return decode[ReelPlayEvent](line)
	case EventReelAdvance:
		return decode[ReelAdvanceEvent](line)
	case EventGateChanged:
		return decode[GateChangedEvent](line)
	case EventError:
		return decode[ErrorEvent](line)
	default:
		slog.Debug("unknown event type", "type", envelope.Type)
		return nil, nil
	}
}

// eventPtr constrains decode to pointer types implementing Event.
type eventPtr[T any] interface {
	*T
	Event
}

func decode[T any, P eventPtr[T]](line []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return P(&e), nil
}

// GetRunID extracts the run ID from an event, if present.
func GetRunID(ev Event) string {
	type runScoped interface{ Run() string }
	if r, ok := ev.(runScoped); ok {
		return r.Run()
	}
	return ""
}
