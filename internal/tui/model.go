package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ensigniasec/scanwatch/internal/notify"
	"github.com/ensigniasec/scanwatch/internal/watch"
)

// NoteKind is the visual state of a notification line.
type NoteKind int

const (
	NoteLoading NoteKind = iota
	NoteSuccess
	NoteError
)

// Note is one notification as shown on screen.
type Note struct {
	Handle      notify.Handle
	Kind        NoteKind
	Message     string
	Description string
	At          time.Time
}

// Model is the root Bubble Tea model.
type Model struct {
	now      time.Time
	snap     watch.Snapshot
	// snapAt is when snap arrived; the retry countdown runs from it.
	snapAt   time.Time
	spinner  spinner.Model
	progress progress.Model
	width    int
	height   int
	quitting bool

	// finished is set once the session returned; finalErr holds its result.
	finished bool
	finalErr error

	// live notification slots in creation order
	notes []Note

	// notification log view (search, pagination, highlight)
	history     list.Model
	showHistory bool

	// inbound messages from the session bridge
	snapshots <-chan watch.Snapshot
	notesCh   <-chan noteMsg
	doneCh    <-chan error

	// stop asks the session to wind down; refresh polls every source now.
	// Either may be nil in tests.
	stop    func()
	refresh func()

	helpVisible bool
	keys        keyMap
}

// NewModel constructs a Model fed by the given channels.
func NewModel(initial watch.Snapshot, snapshots <-chan watch.Snapshot, notes <-chan noteMsg, done <-chan error, stop, refresh func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	p := progress.New(progress.WithDefaultGradient())

	lst := list.New([]list.Item{}, notesDelegate{}, 0, historyHeight)
	lst.Title = "Notifications"
	lst.SetShowStatusBar(true)
	lst.SetFilteringEnabled(true)
	lst.SetShowHelp(false)
	lst.SetShowPagination(true)

	return Model{
		now:       time.Now(),
		snap:      initial,
		snapAt:    time.Now(),
		spinner:   sp,
		progress:  p,
		history:   lst,
		snapshots: snapshots,
		notesCh:   notes,
		doneCh:    done,
		stop:      stop,
		refresh:   refresh,
		keys:      newKeyMap(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForSnapshots(),
		m.listenForNotes(),
		m.listenForDone(),
		m.tickCountdown(),
	)
}

// listenForSnapshots returns a Tea command that waits for the next session snapshot.
func (m Model) listenForSnapshots() tea.Cmd {
	if m.snapshots == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-m.snapshots
		if !ok {
			return nil
		}
		return snapshotMsg{Snapshot: snap}
	}
}

// listenForNotes returns a Tea command that waits for the next notification call.
func (m Model) listenForNotes() tea.Cmd {
	if m.notesCh == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-m.notesCh
		if !ok {
			return nil
		}
		return msg
	}
}

// listenForDone returns a Tea command that waits for the session result.
func (m Model) listenForDone() tea.Cmd {
	if m.doneCh == nil {
		return nil
	}
	return func() tea.Msg {
		return sessionDoneMsg{Err: <-m.doneCh}
	}
}

// tickCountdown schedules the next countdown tick.
func (m Model) tickCountdown() tea.Cmd {
	return tea.Tick(countdownTickInterval, func(time.Time) tea.Msg {
		return tickCountdownMsg{}
	})
}

// Notes returns the live notification lines.
func (m Model) Notes() []Note { return m.notes }

// Snapshot returns the last session state the model received.
func (m Model) Snapshot() watch.Snapshot { return m.snap }

// Err returns the session result once it finished.
func (m Model) Err() error { return m.finalErr }
