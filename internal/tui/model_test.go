package tui

import (
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensigniasec/scanwatch/internal/api"
	"github.com/ensigniasec/scanwatch/internal/notify"
	"github.com/ensigniasec/scanwatch/internal/phase"
	"github.com/ensigniasec/scanwatch/internal/watch"
)

func newTestModel() Model {
	return NewModel(watch.Snapshot{UserID: "7656", Message: "Connecting...", ButtonLabel: "Connecting..."}, nil, nil, nil, nil, nil)
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestApplyNote_SlotsFollowSinkCalls(t *testing.T) {
	m := newTestModel()
	m = update(t, m, noteMsg{Op: opLoading, Handle: "a", Message: "Queued"})
	m = update(t, m, noteMsg{Op: opUpdate, Handle: "a", Message: "Queued - Position 2"})
	require.Len(t, m.Notes(), 1)
	assert.Equal(t, "Queued - Position 2", m.Notes()[0].Message)
	assert.Equal(t, NoteLoading, m.Notes()[0].Kind)

	m = update(t, m, noteMsg{Op: opError, Handle: "b", Message: "Couldn't refresh scan status"})
	require.Len(t, m.Notes(), 2)

	// Success replaces the loading slot in place.
	m = update(t, m, noteMsg{Op: opSuccess, Handle: "a", Message: "Scan complete"})
	require.Len(t, m.Notes(), 2)
	assert.Equal(t, NoteSuccess, m.Notes()[0].Kind)

	m = update(t, m, noteMsg{Op: opDismiss, Handle: "b"})
	require.Len(t, m.Notes(), 1)

	// Unknown handles are tolerated.
	m = update(t, m, noteMsg{Op: opDismiss, Handle: "zzz"})
	m = update(t, m, noteMsg{Op: opUpdate, Handle: "zzz", Message: "late"})
	require.Len(t, m.Notes(), 1)

	assert.Len(t, m.history.Items(), 4)
}

func TestApplyNote_LiveLinesAreBounded(t *testing.T) {
	m := newTestModel()
	for i := range liveNotesMax + 3 {
		m = update(t, m, noteMsg{Op: opError, Handle: notify.Handle(fmt.Sprintf("h%d", i)), Message: "x"})
	}
	assert.Len(t, m.Notes(), liveNotesMax)
}

func TestSnapshotAndDone(t *testing.T) {
	m := newTestModel()
	snap := watch.Snapshot{
		UserID:      "7656",
		Signal:      phase.Signal{Phase: phase.Queued, Message: "Queued for scan"},
		HasSignal:   true,
		Message:     "Queued for scan - Position 3",
		ButtonLabel: "Queued (#3)",
		Transport:   "poll",
	}
	m = update(t, m, snapshotMsg{Snapshot: snap})
	assert.Equal(t, snap, m.Snapshot())
	out := m.View()
	assert.Contains(t, out, "Queued (#3)")
	assert.Contains(t, out, "POLLING")

	m = update(t, m, sessionDoneMsg{Err: errors.New("boom")})
	require.EqualError(t, m.Err(), "boom")
	assert.Contains(t, m.View(), "Watch ended: boom")
}

func TestQuitStopsSession(t *testing.T) {
	stopped := false
	m := NewModel(watch.Snapshot{}, nil, nil, nil, func() { stopped = true }, nil)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.True(t, stopped)
	assert.Equal(t, "Shutting down...\n", next.View())
}

func TestHistoryToggle(t *testing.T) {
	m := newTestModel()
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	assert.True(t, m.showHistory)
	assert.Contains(t, m.View(), "close log")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.showHistory)
}

func TestPhaseProgress(t *testing.T) {
	assert.Zero(t, phaseProgress(watch.Snapshot{}))
	assert.InDelta(t, 0.25, phaseProgress(watch.Snapshot{HasSignal: true, Signal: phase.Signal{Phase: phase.Queued}}), 1e-9)
	assert.InDelta(t, 0.42, phaseProgress(watch.Snapshot{HasSignal: true, Signal: phase.Signal{Phase: phase.Scanning, Progress: phase.Percent(42)}}), 1e-9)
	assert.InDelta(t, 1.0, phaseProgress(watch.Snapshot{HasSignal: true, Signal: phase.Signal{Phase: phase.Completed}}), 1e-9)
}

func TestRenderRetry(t *testing.T) {
	assert.Empty(t, renderRetry(watch.RetryState{}, 0))

	live := renderRetry(watch.RetryState{RetryCount: 1, MaxRetries: 3, LastError: "502", CountdownSeconds: 5}, 2*time.Second)
	assert.Contains(t, live, "Retry 1/3 in 3s: 502")

	late := renderRetry(watch.RetryState{RetryCount: 1, MaxRetries: 3, LastError: "502", CountdownSeconds: 1}, 9*time.Second)
	assert.Contains(t, late, "in 0s")

	stalled := renderRetry(watch.RetryState{RetryCount: 3, MaxRetries: 3, LastError: "502"}, 0)
	assert.Contains(t, stalled, "Auto-retry stopped after 3 attempts")
}

func TestRenderQueue(t *testing.T) {
	now := time.Unix(1700000060, 0)
	assert.Empty(t, renderQueue(watch.Snapshot{}, now))

	line := renderQueue(watch.Snapshot{
		HasPosition: true, Position: 2,
		HasQueue: true, Queue: api.QueueInfo{QueueLength: 7, LastDequeue: &api.Dequeue{Timestamp: 1700000000000}},
		HasOnline: true, Online: 12,
	}, now)
	assert.Contains(t, line, "Position 2")
	assert.Contains(t, line, "7 waiting")
	assert.Contains(t, line, "last dequeue 1m0s ago")
	assert.Contains(t, line, "12 online")
}

func TestSinkNeverBlocks(t *testing.T) {
	s := NewSink()
	for range channelBufferSize + 10 {
		s.Error("h", "x", "")
	}
	assert.Len(t, s.ch, channelBufferSize)
	msg := <-s.ch
	assert.Equal(t, opError, msg.Op)
}

func TestRefreshKeyCallsSession(t *testing.T) {
	refreshes := 0
	m := NewModel(watch.Snapshot{}, nil, nil, nil, nil, func() { refreshes++ })
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Equal(t, 1, refreshes)

	// Nothing left to refresh once the session ended.
	m = update(t, m, sessionDoneMsg{})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Equal(t, 1, refreshes)
	assert.Contains(t, m.View(), "r: refresh")
}
