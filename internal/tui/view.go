package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ensigniasec/scanwatch/internal/watch"
)

const bannerArt = `
 ___  ___ __ _ _ __
/ __|/ __/ _' | '_ \
\__ \ (_| (_| | | | |
|___/\___\__,_|_| |_|
 __      ____ _| |_ ___| |__
 \ \ /\ / / _' | __/ __| '_ \
  \ V  V / (_| | || (__| | | |
   \_/\_/ \__,_|\__\___|_| |_|
`

func scanwatchBanner() string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true).Render(strings.Trim(bannerArt, "\n"))
}

func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	left := scanwatchBanner()
	leftWidth := lipgloss.Width(left)
	leftHeight := lipgloss.Height(left)
	gap := 2

	right := renderMainContent(m)
	if m.showHistory {
		// The log needs more room than the banner provides.
		leftHeight += historyHeight
	}

	if m.width > 0 && m.width > leftWidth+gap {
		rightStyled := lipgloss.NewStyle().MarginLeft(gap).Width(m.contentWidth()).Height(leftHeight).Render(
			pinFooter(right, renderFooter(m), leftHeight),
		)
		return lipgloss.JoinHorizontal(lipgloss.Top, left, rightStyled)
	}

	// Fallback to vertical stacking if we don't yet know the window or it's too small.
	var b strings.Builder
	b.WriteString(left)
	b.WriteString("\n")
	b.WriteString(pinFooter(right, renderFooter(m), 0))
	return b.String()
}

// contentWidth is the right column width, capped to rightViewportMax.
func (m Model) contentWidth() int {
	width := rightViewportMax
	leftWidth := lipgloss.Width(scanwatchBanner())
	gap := 2
	if m.width > 0 && m.width > leftWidth+gap {
		available := m.width - leftWidth - gap
		if available < width {
			width = available
		}
	}
	if width < 1 {
		width = 1
	}
	return width
}

func renderMainContent(m Model) string {
	var b strings.Builder
	if m.helpVisible {
		b.WriteString(renderHelp())
		b.WriteString("\n\n")
	}
	b.WriteString(renderHeader())
	b.WriteString("\n")

	width := m.contentWidth()

	// User (left) and mode badge (right), aligned to right column width.
	user := "User " + lipgloss.NewStyle().Bold(true).Render(m.snap.UserID)
	mode := modeBadge(m)
	pad := width - lipgloss.Width(user) - lipgloss.Width(mode)
	if pad < 1 {
		pad = 1
	}
	b.WriteString(user)
	b.WriteString(strings.Repeat(" ", pad))
	b.WriteString(mode)
	b.WriteString("\n")

	b.WriteString(renderLabel(m))
	b.WriteString("\n")

	mCopy := m
	mCopy.progress.Width = width
	b.WriteString(mCopy.progress.View())
	b.WriteString("\n")

	if m.snap.Message != "" {
		b.WriteString(m.snap.Message)
		b.WriteString("\n")
	}
	if line := renderQueue(m.snap, m.now); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if line := renderRetry(m.snap.Retry, m.now.Sub(m.snapAt)); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.notes) > 0 {
		b.WriteString("\n")
		b.WriteString(renderNotes(m.notes))
	}

	if m.showHistory {
		b.WriteString("\n")
		lst := m.history
		lst.SetSize(width, historyHeight)
		b.WriteString(lst.View())
		b.WriteString("\n")
	}

	if m.finished {
		b.WriteString("\n")
		b.WriteString(renderFinished(m.finalErr))
		b.WriteString("\n")
	}
	return b.String()
}

func pinFooter(content string, footer string, totalHeight int) string {
	// Ensure content + footer equals totalHeight by padding content with newlines.
	contentLines := strings.Count(content, "\n")
	footerLines := strings.Count(footer, "\n") + 1
	minSpacing := 1
	needed := totalHeight - (contentLines + footerLines + minSpacing)
	if needed < 0 {
		needed = 0
	}
	var b strings.Builder
	b.WriteString(content)
	b.WriteString(strings.Repeat("\n", minSpacing+needed))
	b.WriteString(footer)
	return b.String()
}

func renderHeader() string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("Scan queue watcher\n")
}

func renderLabel(m Model) string {
	label := m.snap.ButtonLabel
	switch {
	case m.snap.HasSignal && m.snap.Signal.Phase.Failed():
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Render("✗ " + label)
	case m.snap.HasSignal && m.snap.Signal.Terminal():
		return lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true).Render("✓ " + label)
	case m.finished:
		return label
	default:
		return m.spinner.View() + " " + label
	}
}

func modeBadge(m Model) string {
	style := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case m.snap.Done || m.finished:
		return style.Foreground(lipgloss.Color("241")).Render("DONE")
	case m.snap.Retry.Exhausted():
		return style.Foreground(lipgloss.Color("196")).Render("STALLED")
	case m.snap.Transport == "stream":
		return style.Foreground(lipgloss.Color("46")).Render("LIVE")
	case m.snap.Transport == "poll":
		return style.Foreground(lipgloss.Color("208")).Render("POLLING")
	default:
		return style.Foreground(lipgloss.Color("69")).Render("CONNECTING")
	}
}

// renderQueue describes the caller's position and the global queue.
func renderQueue(s watch.Snapshot, now time.Time) string {
	var parts []string
	if s.HasPosition {
		parts = append(parts, fmt.Sprintf("Position %d", s.Position))
	}
	if s.HasQueue {
		parts = append(parts, fmt.Sprintf("%d waiting", s.Queue.QueueLength))
		if d := s.Queue.LastDequeue; d != nil && !d.Time().IsZero() {
			ago := now.Sub(d.Time()).Truncate(time.Second)
			if ago < 0 {
				ago = 0
			}
			parts = append(parts, "last dequeue "+ago.String()+" ago")
		}
	}
	if s.HasOnline {
		parts = append(parts, fmt.Sprintf("%d online", s.Online))
	}
	if len(parts) == 0 {
		return ""
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("Queue: " + strings.Join(parts, " • "))
}

// renderRetry shows the automatic retry state; elapsed advances the countdown between snapshots.
func renderRetry(r watch.RetryState, elapsed time.Duration) string {
	if r.LastError == "" {
		return ""
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	if r.Exhausted() {
		return style.Foreground(lipgloss.Color("196")).Render(
			fmt.Sprintf("Auto-retry stopped after %d attempts: %s", r.RetryCount, r.LastError))
	}
	remaining := r.CountdownSeconds - int(elapsed/time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return style.Render(fmt.Sprintf("Retry %d/%d in %ds: %s", r.RetryCount, r.MaxRetries, remaining, r.LastError))
}

func renderNotes(notes []Note) string {
	var b strings.Builder
	for _, n := range notes {
		line := fmt.Sprintf(" %s %s", noteIcon(n.Kind), n.Message)
		if n.Description != "" {
			line += lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" - " + n.Description)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func renderFinished(err error) string {
	if err != nil {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("Watch ended: " + err.Error())
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("Watch ended. Press q to exit.")
}

func renderFooter(m Model) string {
	text := "q: quit • r: refresh • l: notification log • h/?: help"
	if m.showHistory {
		text = "q: quit • l/esc: close log • /: filter • ↑/↓: move"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(text)
}

func renderHelp() string {
	border := lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1).Foreground(lipgloss.Color("69"))
	content := []string{
		"Help",
		"",
		"h/?: toggle this help",
		"r: refresh status, position and queue now",
		"l: toggle the notification log",
		"esc: close help or log",
		"q/ctrl+c: stop watching and quit",
	}
	return border.Render(strings.Join(content, "\n"))
}
