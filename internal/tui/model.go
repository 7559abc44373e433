package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/events"
)

// Display status values.
const (
	statusIdle         = "idle"
	statusRunning      = "running"
	statusStopped      = "stopped"
	statusStopping     = "stopping..."
	statusResuming     = "resuming..."
	statusDisconnected = "disconnected"
)

// runStats holds counters accumulated from events.
type runStats struct {
	Viewed        int
	Skipped       int
	Interruptions int
	Advances      int
	Errors        int
}

// eventLine represents a formatted event for display.
type eventLine struct {
	Time  time.Time
	Text  string
	Style lipgloss.Style
}

// model is the bubbletea model for the TUI.
type model struct {
	// Event source
	eventChan <-chan events.Event

	// State
	status    string
	mode      string
	phase     string
	current   string
	gateOpen  bool
	runStart  time.Time
	run       control.Status
	statusErr string
	stats     runStats

	// Event log
	eventLines []eventLine

	// UI state
	width      int
	height     int
	scrollPos  int
	autoScroll bool
	spinner    spinner.Model

	// Callbacks
	onStop   func()
	onResume func()
	onQuit   func()

	// Status provider
	statusFn StatusFunc
}

// eventMsg wraps an event for the bubbletea message system.
type eventMsg struct{ event events.Event }

// statusMsg carries the result of a status poll.
type statusMsg struct {
	status control.Status
	err    error
}

// newModel creates a new model with the given configuration.
func newModel(
	eventChan <-chan events.Event,
	onStop, onResume, onQuit func(),
	statusFn StatusFunc,
) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.StatusRunning

	return model{
		eventChan:  eventChan,
		status:     statusIdle,
		autoScroll: true,
		spinner:    sp,
		onStop:     onStop,
		onResume:   onResume,
		onQuit:     onQuit,
		statusFn:   statusFn,
	}
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.eventChan),
		fetchStatus(m.statusFn),
		doTick(),
		m.spinner.Tick,
	)
}

// Update, handleKey, handleEvent are implemented in update.go
// View is implemented in view.go

// visibleLines returns the number of event lines that fit in the viewport.
func (m model) visibleLines() int {
	// Height minus: border (2), header (3), dividers (2), footer (1) = 8
	return max(1, m.height-8)
}

// busy reports whether the spinner should animate.
func (m model) busy() bool {
	switch m.status {
	case statusRunning, statusStopping, statusResuming:
		return true
	}
	return false
}
