package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensigniasec/scanwatch/internal/phase"
	"github.com/ensigniasec/scanwatch/internal/watch"
)

// printer renders one snapshot; it is only called when the visible state changed.
type printer func(watch.Snapshot)

// runPrinted runs the session and prints every visible change until it returns.
func runPrinted(ctx context.Context, sess *watch.Session, out printer) error {
	result := make(chan error, 1)
	go func() { result <- sess.Run(ctx) }()

	var last string
	emit := func() {
		snap := sess.Snapshot()
		if key := visibleKey(snap); key != last {
			last = key
			out(snap)
		}
	}
	for {
		select {
		case <-sess.Updates():
			emit()
		case err := <-result:
			emit()
			return err
		}
	}
}

// visibleKey identifies what a reader would see; retries and clock ticks alone don't print.
func visibleKey(s watch.Snapshot) string {
	pos := -1
	if s.HasPosition {
		pos = s.Position
	}
	return fmt.Sprintf("%s|%s|%s|%d|%t|%s", s.Signal.Phase, s.Message, s.ButtonLabel, pos, s.Retry.Exhausted(), s.Transport)
}

func plainPrinter(w io.Writer) printer {
	return func(s watch.Snapshot) {
		stamp := time.Now().Format("15:04:05")
		line := fmt.Sprintf("%s  %-14s %s", stamp, s.ButtonLabel, s.Message)
		if s.HasQueue {
			line += fmt.Sprintf("  (%d in queue)", s.Queue.QueueLength)
		}
		if s.Retry.Exhausted() {
			line += "  [auto-retry stopped: " + s.Retry.LastError + "]"
		}
		fmt.Fprintln(w, line)
	}
}

// event is one JSON line of `watch --json`.
type event struct {
	Time        time.Time   `json:"time"`
	UserID      string      `json:"user_id"`
	Phase       phase.Phase `json:"phase,omitempty"`
	Message     string      `json:"message"`
	Label       string      `json:"label"`
	Progress    *float64    `json:"progress,omitempty"`
	Position    *int        `json:"position,omitempty"`
	QueueLength *int        `json:"queue_length,omitempty"`
	Online      *int        `json:"online,omitempty"`
	Transport   string      `json:"transport,omitempty"`
	RetryCount  int         `json:"retry_count,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	Done        bool        `json:"done"`
}

func newEvent(s watch.Snapshot, now time.Time) event {
	ev := event{
		Time:       now.UTC(),
		UserID:     s.UserID,
		Phase:      s.Signal.Phase,
		Message:    s.Message,
		Label:      s.ButtonLabel,
		Progress:   s.Signal.Progress,
		Transport:  s.Transport,
		RetryCount: s.Retry.RetryCount,
		LastError:  s.Retry.LastError,
		Done:       s.Done,
	}
	if s.HasPosition {
		p := s.Position
		ev.Position = &p
	}
	if s.HasQueue {
		q := s.Queue.QueueLength
		ev.QueueLength = &q
	}
	if s.HasOnline {
		n := s.Online
		ev.Online = &n
	}
	return ev
}

func jsonPrinter(w io.Writer) printer {
	enc := json.NewEncoder(w)
	return func(s watch.Snapshot) {
		if err := enc.Encode(newEvent(s, time.Now())); err != nil {
			logrus.WithError(err).Warn("could not write event")
		}
	}
}
