package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ensigniasec/scanwatch/internal/phase"
	"github.com/ensigniasec/scanwatch/internal/watch"
)

// handleKey processes key bindings and returns updated model and command.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.stop != nil {
			m.stop()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.helpVisible = !m.helpVisible
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		if m.refresh != nil && !m.finished {
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keys.History):
		m.showHistory = !m.showHistory
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		switch {
		case m.helpVisible:
			m.helpVisible = false
		case m.showHistory:
			m.showHistory = false
		}
		return m, nil
	}

	if m.showHistory {
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}
	return m, nil
}

// applyNote mirrors one sink call onto the live lines and the log.
func (m *Model) applyNote(x noteMsg, at time.Time) {
	idx := -1
	for i := range m.notes {
		if m.notes[i].Handle == x.Handle {
			idx = i
			break
		}
	}

	if x.Op == opDismiss {
		if idx >= 0 {
			m.notes = append(m.notes[:idx], m.notes[idx+1:]...)
		}
		return
	}
	if x.Op == opUpdate && idx < 0 {
		// Updates for a handle no longer shown are ignored.
		return
	}

	n := Note{Handle: x.Handle, Message: x.Message, Description: x.Description, At: at}
	switch x.Op {
	case opSuccess:
		n.Kind = NoteSuccess
	case opError:
		n.Kind = NoteError
	default:
		n.Kind = NoteLoading
	}
	if idx >= 0 {
		m.notes[idx] = n
	} else {
		m.notes = append(m.notes, n)
	}
	if len(m.notes) > liveNotesMax {
		m.notes = m.notes[len(m.notes)-liveNotesMax:]
	}
	m.history.InsertItem(0, noteItem{Note: n})
}

// phaseProgress maps the session state to a progress bar fraction.
// A reported percentage wins; otherwise the lifecycle position is used.
func phaseProgress(s watch.Snapshot) float64 {
	if !s.HasSignal {
		return 0
	}
	if s.Signal.Progress != nil {
		return clamp01(*s.Signal.Progress / 100)
	}
	switch s.Signal.Phase {
	case phase.Requested, phase.Retrying:
		return 0.1
	case phase.Queued:
		return 0.25
	case phase.UserFound:
		return 0.45
	case phase.BotJoined:
		return 0.6
	case phase.Scanning:
		return 0.8
	case phase.Completed:
		return 1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var _ list.Item = noteItem{}
