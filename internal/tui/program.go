package tui

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/ensigniasec/scanwatch/internal/watch"
)

// Run starts the Bubble Tea TUI program and the watch session behind it.
// sink must be the notify.Sink the session's notifier writes to.
// It returns the session's result once both the UI and the session have stopped.
func Run(ctx context.Context, sess *watch.Session, sink *Sink) error {
	snapshots := make(chan watch.Snapshot, 1)
	doneCh := make(chan error, 1)
	result := make(chan error, 1)

	model := NewModel(sess.Snapshot(), snapshots, sink.ch, doneCh, sess.Stop, sess.Refresh)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// Silence external logs (WARN/ERRO) during TUI to avoid corrupting the view.
	prevOut := logrus.StandardLogger().Out
	logrus.SetOutput(io.Discard)
	defer logrus.SetOutput(prevOut)

	go bridgeSnapshots(sess, snapshots)
	go func() {
		err := sess.Run(ctx)
		doneCh <- err
		result <- err
	}()

	_, uiErr := p.Run()
	sess.Stop()
	err := <-result
	if err == nil && uiErr != nil && ctx.Err() == nil {
		return uiErr
	}
	return err
}

// bridgeSnapshots forwards the newest snapshot after every session change.
// Only the latest snapshot is kept when the UI falls behind.
func bridgeSnapshots(sess *watch.Session, out chan watch.Snapshot) {
	defer close(out)
	push := func() {
		snap := sess.Snapshot()
		select {
		case <-out:
		default:
		}
		out <- snap
	}
	for {
		select {
		case <-sess.Updates():
			push()
		case <-sess.Done():
			push()
			return
		}
	}
}
