package tui

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/events"
)

const (
	// maxEventLines is the maximum number of event lines to keep in the buffer.
	maxEventLines = 1000
	// trimEventLines is the number of lines to remove when buffer exceeds max.
	trimEventLines = 100
	// tickInterval is the interval between status polls.
	tickInterval = 2 * time.Second
	// maxCurrentLength bounds the current item line.
	maxCurrentLength = 60
)

// channelClosedMsg signals that the event channel was closed.
type channelClosedMsg struct{}

// tickMsg signals a periodic status poll.
type tickMsg time.Time

// waitForEvent creates a command that waits for the next event from the channel.
// Returns channelClosedMsg if the channel is closed.
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg{event: event}
	}
}

// doTick creates a command that waits for the tick interval and sends a tickMsg.
func doTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatus polls fn off the update loop. A nil fn yields no command.
func fetchStatus(fn StatusFunc) tea.Cmd {
	if fn == nil {
		return nil
	}
	return func() tea.Msg {
		st, err := fn()
		return statusMsg{status: st, err: err}
	}
}

// runAction invokes fn off the update loop and polls status afterwards.
func runAction(fn func(), statusFn StatusFunc) tea.Cmd {
	return func() tea.Msg {
		fn()
		if statusFn == nil {
			return nil
		}
		st, err := statusFn()
		return statusMsg{status: st, err: err}
	}
}

// Update implements tea.Model. It handles all message types and updates the model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		m.handleEvent(msg.event)
		return m, waitForEvent(m.eventChan)

	case channelClosedMsg:
		// Event channel closed - clean exit
		slog.Info("event channel closed, exiting TUI")
		return m, tea.Quit

	case statusMsg:
		m.handleStatus(msg)
		return m, nil

	case tickMsg:
		return m, tea.Batch(fetchStatus(m.statusFn), doTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

// handleKey processes keyboard input and returns the updated model and command.
func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.onQuit != nil {
			m.onQuit()
		}
		return m, tea.Quit

	case "s":
		if m.onStop == nil {
			return m, nil
		}
		m.status = statusStopping
		return m, runAction(m.onStop, m.statusFn)

	case "r":
		if m.onResume == nil {
			return m, nil
		}
		m.status = statusResuming
		return m, runAction(m.onResume, m.statusFn)

	case "up", "k":
		m.autoScroll = false
		if m.scrollPos > 0 {
			m.scrollPos--
		}
		return m, nil

	case "down", "j":
		maxScroll := len(m.eventLines) - m.visibleLines()
		if m.scrollPos < maxScroll {
			m.scrollPos++
		}
		if m.scrollPos >= maxScroll {
			m.autoScroll = true
		}
		return m, nil

	case "home", "g":
		m.autoScroll = false
		m.scrollPos = 0
		return m, nil

	case "end", "G":
		m.autoScroll = true
		m.scrollPos = max(0, len(m.eventLines)-m.visibleLines())
		return m, nil

	default:
		return m, nil
	}
}

// handleStatus applies a status poll result. Polls are authoritative for
// whether a run is active; events fill in the detail between polls.
func (m *model) handleStatus(msg statusMsg) {
	if msg.err != nil {
		m.statusErr = msg.err.Error()
		m.status = statusDisconnected
		return
	}
	m.statusErr = ""
	m.run = msg.status

	switch {
	case msg.status.Running:
		m.status = statusRunning
		m.mode = string(msg.status.Mode)
		if !msg.status.StartedAt.IsZero() {
			m.runStart = msg.status.StartedAt
		}
		m.gateOpen = msg.status.GateOpen
		if msg.status.State != "" {
			m.phase = msg.status.State
		}
	case m.status == statusStopped:
	default:
		m.status = statusIdle
	}
}

// handleEvent processes an event and updates model state.
func (m *model) handleEvent(event events.Event) {
	switch e := event.(type) {
	case *events.RunStartEvent:
		m.status = statusRunning
		m.mode = e.Mode
		m.runStart = event.Timestamp()
		m.current = ""

	case *events.RunStopEvent:
		m.status = statusStopped
		m.phase = ""
		m.current = ""
		m.gateOpen = false

	case *events.StateChangedEvent:
		m.phase = e.To

	case *events.ItemViewingEvent:
		m.stats.Viewed++
		m.current = fmt.Sprintf("item %d (%s) for %s", e.Index+1, e.Media, e.Dwell.Round(time.Millisecond))

	case *events.ItemSkippedEvent:
		m.stats.Skipped++

	case *events.InterruptionEvent:
		m.stats.Interruptions++

	case *events.ReelSubscribedEvent:
		m.current = "reel " + e.Video

	case *events.ReelPlayEvent:
		m.current = fmt.Sprintf("reel %s play %d/%d", e.Video, e.Plays, e.Target)

	case *events.ReelAdvanceEvent:
		m.stats.Advances++

	case *events.GateChangedEvent:
		m.gateOpen = e.Open

	case *events.ErrorEvent:
		m.stats.Errors++
	}
	m.current = events.Truncate(m.current, maxCurrentLength)

	// Add to event log with formatting
	text := events.Format(event)
	if text == "" {
		return
	}
	m.eventLines = append(m.eventLines, eventLine{
		Time:  event.Timestamp(),
		Text:  text,
		Style: StyleForEvent(event),
	})

	// Trim buffer if over max lines
	if len(m.eventLines) > maxEventLines {
		m.eventLines = m.eventLines[trimEventLines:]
		m.scrollPos = max(0, m.scrollPos-trimEventLines)
	}

	// Auto-scroll to bottom if enabled
	if m.autoScroll {
		maxScroll := len(m.eventLines) - m.visibleLines()
		if maxScroll > 0 {
			m.scrollPos = maxScroll
		}
	}
}

// position describes the run's place in the feed or reel.
func position(st control.Status) string {
	switch st.Mode {
	case control.ModeFeed:
		if st.Items > 0 {
			return fmt.Sprintf("item %d/%d", st.Index+1, st.Items)
		}
		return fmt.Sprintf("item %d", st.Index+1)
	case control.ModeReel:
		if st.Video == "" {
			return "no reel"
		}
		return fmt.Sprintf("plays %d", st.Plays)
	}
	return ""
}
