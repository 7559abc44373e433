package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/scrollpilot/internal/events"
)

const (
	minWidth  = 60
	minHeight = 15
)

// View implements tea.Model. This renders the full TUI display.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	// Handle too small terminal
	if m.width < minWidth || m.height < minHeight {
		return m.renderTooSmall()
	}

	sections := []string{
		m.renderHeader(),
		m.renderDivider(),
		m.renderEvents(),
		m.renderDivider(),
		m.renderFooter(),
	}
	content := strings.Join(sections, "\n")

	// Height() can cause clipping issues; let content determine size
	rendered := styles.Container.
		Width(safeWidth(m.width - 2)).
		Render(content)

	return lipgloss.Place(m.width, m.height, lipgloss.Left, lipgloss.Top, rendered)
}

// renderTooSmall renders a minimal message for terminals that are too small.
func (m model) renderTooSmall() string {
	return fmt.Sprintf("Terminal too small (%dx%d). Need %dx%d minimum.",
		m.width, m.height, minWidth, minHeight)
}

// renderHeader renders status, current item and counters.
func (m model) renderHeader() string {
	w := safeWidth(m.width - 4) // Account for container borders

	// Line 1: status, mode and run time
	left := m.renderStatus()
	if m.mode != "" {
		left += "  " + styles.Mode.Render(m.mode)
	}
	if m.phase != "" {
		left += "  " + styles.Stats.Render(m.phase)
	}
	right := ""
	if m.busy() && !m.runStart.IsZero() {
		right = styles.Duration.Render(time.Since(m.runStart).Truncate(time.Second).String())
	}
	statusLine := spread(left, right, w)

	// Line 2: what the run is looking at
	var currentLine string
	switch {
	case m.status == statusDisconnected:
		currentLine = styles.Error.Render(events.Truncate(m.statusErr, w))
	case m.current != "":
		currentLine = styles.Current.Render(m.current)
	case m.run.Running:
		currentLine = styles.Current.Render(position(m.run))
	default:
		currentLine = styles.Current.Render("no active run")
	}
	if m.gateOpen {
		currentLine = spread(currentLine, styles.Gate.Render("OVERLAY OPEN"), w)
	}

	// Line 3: counters
	statsText := fmt.Sprintf("viewed: %d  skipped: %d  manual: %d",
		m.stats.Viewed, m.stats.Skipped, m.stats.Interruptions)
	if m.mode == events.ModeReel {
		statsText = fmt.Sprintf("reels: %d", m.stats.Advances)
	}
	errText := ""
	if m.stats.Errors > 0 {
		errText = styles.Error.Render(fmt.Sprintf("errors: %d", m.stats.Errors))
	}
	statsLine := spread(styles.Stats.Render(statsText), errText, w)

	return strings.Join([]string{statusLine, currentLine, statsLine}, "\n")
}

// renderStatus renders the status indicator with appropriate styling.
func (m model) renderStatus() string {
	status := strings.ToUpper(m.status)
	var style lipgloss.Style

	switch m.status {
	case statusRunning:
		style = styles.StatusRunning
	case statusStopping, statusResuming:
		style = styles.StatusPending
	case statusStopped, statusDisconnected:
		style = styles.StatusStopped
	default:
		style = styles.StatusIdle
	}

	if m.busy() {
		return m.spinner.View() + " " + style.Render(status)
	}
	return style.Render(status)
}

// renderDivider renders a horizontal divider line.
func (m model) renderDivider() string {
	w := safeWidth(m.width - 4) // Account for container borders
	return styles.Divider.Render(strings.Repeat("─", w))
}

// renderEvents renders the scrollable event feed.
func (m model) renderEvents() string {
	visible := m.visibleLines()
	w := safeWidth(m.width - 4) // Account for container borders

	if len(m.eventLines) == 0 {
		placeholder := "Waiting for events..."
		padding := strings.Repeat("\n", visible/2)
		return padding + lipgloss.PlaceHorizontal(w, lipgloss.Center, placeholder)
	}

	scrollPos := safeScroll(m.scrollPos, len(m.eventLines), visible)
	endPos := min(scrollPos+visible, len(m.eventLines))

	lines := make([]string, 0, visible)
	for _, el := range m.eventLines[scrollPos:endPos] {
		lines = append(lines, m.renderEventLine(el, w))
	}

	// Pad with empty lines if needed
	for len(lines) < visible {
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

// renderEventLine renders a single event with timestamp and styling.
func (m model) renderEventLine(el eventLine, maxWidth int) string {
	prefix := el.Time.Format("15:04:05") + " "

	textWidth := max(10, maxWidth-len(prefix))
	text := events.Truncate(el.Text, textWidth)

	return styles.Muted.Render(prefix) + el.Style.Render(text)
}

// renderFooter renders keyboard shortcuts help text.
func (m model) renderFooter() string {
	var keys []string
	if m.onStop != nil && m.status != statusStopped && m.status != statusIdle {
		keys = append(keys, "s: stop")
	}
	if m.onResume != nil && m.status != statusRunning {
		keys = append(keys, "r: resume")
	}
	keys = append(keys, "q: quit", "↑/↓: scroll", "g/G: top/bottom")
	return styles.Footer.Render(strings.Join(keys, "  "))
}

// spread places left and right at the edges of a line of width w.
func spread(left, right string, w int) string {
	if right == "" {
		return left
	}
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		left,
		strings.Repeat(" ", max(1, w-lipgloss.Width(left)-lipgloss.Width(right))),
		right,
	)
}

// safeWidth returns a width that is at least 1 to prevent negative values.
func safeWidth(w int) int {
	if w < 1 {
		return 1
	}
	return w
}

// safeScroll clamps scroll position to valid bounds.
func safeScroll(pos, totalLines, visibleLines int) int {
	if pos < 0 {
		return 0
	}
	maxScroll := totalLines - visibleLines
	if maxScroll < 0 {
		return 0
	}
	if pos > maxScroll {
		return maxScroll
	}
	return pos
}
