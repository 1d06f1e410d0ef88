package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) { // nolint:ireturn
	switch x := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = x.Width, x.Height
		m.history.SetSize(m.contentWidth(), historyHeight)
		return m, nil

	case tea.KeyMsg:
		if m.showHistory && m.history.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.history, cmd = m.history.Update(x)
			return m, cmd
		}
		return m.handleKey(x)

	case tickCountdownMsg:
		m.now = time.Now()
		if m.finished {
			return m, nil
		}
		return m, m.tickCountdown()

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(x)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(x)
		if p, ok := pm.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd

	case snapshotMsg:
		m.snap = x.Snapshot
		m.now = time.Now()
		m.snapAt = m.now
		return m, tea.Batch(m.progress.SetPercent(phaseProgress(m.snap)), m.listenForSnapshots())

	case noteMsg:
		m.applyNote(x, time.Now())
		return m, m.listenForNotes()

	case sessionDoneMsg:
		m.finished = true
		m.finalErr = x.Err
		return m, nil
	}

	if m.showHistory {
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}
	return m, nil
}
