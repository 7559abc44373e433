package events

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	maxMessageLength  = 100
	maxVideoLength    = 40
	truncateIndicator = "..."
)

// Format converts an event to a human-readable string for display.
// Returns empty string for nil or unknown event types.
func Format(event Event) string {
	if event == nil {
		return ""
	}

	switch e := event.(type) {
	case *RunStartEvent:
		return formatRunStart(e)
	case *RunStopEvent:
		return formatRunStop(e)
	case *StateChangedEvent:
		return fmt.Sprintf("state: %s -> %s", SafeString(e.From), SafeString(e.To))
	case *ItemViewingEvent:
		return formatItemViewing(e)
	case *ItemSkippedEvent:
		return fmt.Sprintf("[-] item %d skipped: %s", e.Index, SafeString(e.Reason))
	case *AlignmentEvent:
		return formatAlignment(e)
	case *InterruptionEvent:
		return fmt.Sprintf("[!] manual scroll: %d -> %d", e.From, e.To)
	case *StallEvent:
		return fmt.Sprintf("waiting for item %d (%d known)", e.Index, e.Known)
	case *ReelSubscribedEvent:
		return fmt.Sprintf("reel: watching %s", Truncate(e.Video, maxVideoLength))
	case *ReelPlayEvent:
		return fmt.Sprintf("reel: play %d/%d", e.Plays, e.Target)
	case *ReelAdvanceEvent:
		return formatReelAdvance(e)
	case *GateChangedEvent:
		if e.Open {
			return "[~] overlay open, paused"
		}
		return "[>] overlay closed, resumed"
	case *ErrorEvent:
		return formatError(e)
	default:
		return ""
	}
}

// FormatWithTimestamp formats an event with a timestamp prefix.
func FormatWithTimestamp(event Event) string {
	if event == nil {
		return ""
	}
	ts := event.Timestamp().Format("15:04:05")
	detail := Format(event)
	if detail == "" {
		return fmt.Sprintf("[%s] %s", ts, event.Type())
	}
	return fmt.Sprintf("[%s] %s", ts, detail)
}

func formatRunStart(e *RunStartEvent) string {
	mode := SafeString(e.Mode)
	if e.Resumed {
		return fmt.Sprintf("%s run resumed at item %d", mode, e.Index)
	}
	return fmt.Sprintf("%s run started", mode)
}

func formatRunStop(e *RunStopEvent) string {
	mode := SafeString(e.Mode)
	reason := SafeString(e.Reason)
	if reason != "" {
		return fmt.Sprintf("%s run stopped: %s", mode, reason)
	}
	return fmt.Sprintf("%s run stopped", mode)
}

func formatItemViewing(e *ItemViewingEvent) string {
	pos := fmt.Sprintf("%d", e.Index+1)
	if e.Total > 0 {
		pos = fmt.Sprintf("%d/%d", e.Index+1, e.Total)
	}
	return fmt.Sprintf("[>] item %s (%s) for %s", pos, SafeString(e.Media), e.Dwell.Round(time.Millisecond))
}

func formatAlignment(e *AlignmentEvent) string {
	switch {
	case e.OK && e.Soft:
		return fmt.Sprintf("aligned item %d (soft, %.0f%% visible)", e.Index, e.Ratio*100)
	case e.OK:
		return fmt.Sprintf("aligned item %d", e.Index)
	default:
		return fmt.Sprintf("[x] alignment failed for item %d after %d attempts (%.0f%% visible)", e.Index, e.Attempts, e.Ratio*100)
	}
}

func formatReelAdvance(e *ReelAdvanceEvent) string {
	dir := SafeString(e.Direction)
	if e.Fallback {
		return fmt.Sprintf("reel: scrolled %s one screen", dir)
	}
	return fmt.Sprintf("reel: next (%s)", dir)
}

func formatError(e *ErrorEvent) string {
	msg := SafeString(e.Message)
	severity := SafeString(e.Severity)
	if severity == "" {
		severity = SeverityError
	}
	return fmt.Sprintf("%s: %s", strings.ToUpper(severity), Truncate(msg, maxMessageLength))
}

// Truncate shortens text to maxLen, adding indicator if truncated.
func Truncate(s string, maxLen int) string {
	s = SafeString(s)
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= len(truncateIndicator) {
		return truncateIndicator
	}
	return s[:maxLen-len(truncateIndicator)] + truncateIndicator
}

// ansiRegex matches ANSI escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// SafeString sanitizes a string for display by removing control characters
// and limiting newlines. Page-derived strings pass through here before they
// reach a terminal.
func SafeString(s string) string {
	s = StripANSI(s)

	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == ' ' || !unicode.IsControl(r) {
			sb.WriteRune(r)
		}
	}

	result := sb.String()
	for strings.Contains(result, "  ") {
		result = strings.ReplaceAll(result, "  ", " ")
	}

	return strings.TrimSpace(result)
}
