package tui

import (
	"github.com/ensigniasec/scanwatch/internal/notify"
	"github.com/ensigniasec/scanwatch/internal/watch"
)

// Message types for Bubble Tea update loop.

// tickCountdownMsg fires every second to advance the retry countdown.
type tickCountdownMsg struct{}

// snapshotMsg carries the latest session state.
type snapshotMsg struct{ Snapshot watch.Snapshot }

// sessionDoneMsg reports that the watch session returned.
type sessionDoneMsg struct{ Err error }

type noteOp int

const (
	opLoading noteOp = iota
	opUpdate
	opSuccess
	opError
	opDismiss
)

// noteMsg carries one notify.Sink call into the update loop.
type noteMsg struct {
	Op          noteOp
	Handle      notify.Handle
	Message     string
	Description string
}
