// Package tui provides a terminal dashboard for monitoring scrollpilot runs
// using bubbletea.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/events"
)

// StatusFunc reports the current run. It may block on an RPC, so the
// dashboard calls it outside the update loop.
type StatusFunc func() (control.Status, error)

// TUI is the terminal dashboard for a scrollpilot daemon.
type TUI struct {
	eventChan <-chan events.Event
	onStop    func()
	onResume  func()
	onQuit    func()
	status    StatusFunc
}

// Option configures the TUI.
type Option func(*TUI)

// New creates a new TUI with the given event channel and options.
func New(eventChan <-chan events.Event, opts ...Option) *TUI {
	t := &TUI{
		eventChan: eventChan,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithOnStop sets the callback invoked when the user presses 's'.
func WithOnStop(fn func()) Option {
	return func(t *TUI) {
		t.onStop = fn
	}
}

// WithOnResume sets the callback invoked when the user presses 'r'.
func WithOnResume(fn func()) Option {
	return func(t *TUI) {
		t.onResume = fn
	}
}

// WithOnQuit sets the callback invoked when the user presses 'q'.
func WithOnQuit(fn func()) Option {
	return func(t *TUI) {
		t.onQuit = fn
	}
}

// WithStatus sets the run status provider polled for the header.
func WithStatus(fn StatusFunc) Option {
	return func(t *TUI) {
		t.status = fn
	}
}

// Run starts the TUI and blocks until it exits.
func (t *TUI) Run() error {
	m := newModel(t.eventChan, t.onStop, t.onResume, t.onQuit, t.status)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
