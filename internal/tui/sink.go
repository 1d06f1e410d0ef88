package tui

import (
	"github.com/sirupsen/logrus"

	"github.com/ensigniasec/scanwatch/internal/notify"
)

// Sink forwards notify.Sink calls into the Bubble Tea update loop.
// Sends never block; if the program has stopped reading, calls are dropped.
type Sink struct {
	ch chan noteMsg
}

var _ notify.Sink = (*Sink)(nil)

// NewSink returns a Sink with a buffered channel.
func NewSink() *Sink {
	return &Sink{ch: make(chan noteMsg, channelBufferSize)}
}

func (s *Sink) Loading(h notify.Handle, message string) {
	s.send(noteMsg{Op: opLoading, Handle: h, Message: message})
}

func (s *Sink) Update(h notify.Handle, message string) {
	s.send(noteMsg{Op: opUpdate, Handle: h, Message: message})
}

func (s *Sink) Success(h notify.Handle, message, description string) {
	s.send(noteMsg{Op: opSuccess, Handle: h, Message: message, Description: description})
}

func (s *Sink) Error(h notify.Handle, message, description string) {
	s.send(noteMsg{Op: opError, Handle: h, Message: message, Description: description})
}

func (s *Sink) Dismiss(h notify.Handle) {
	s.send(noteMsg{Op: opDismiss, Handle: h})
}

func (s *Sink) send(msg noteMsg) {
	select {
	case s.ch <- msg:
	default:
		logrus.WithField("handle", msg.Handle).Debug("notification dropped: ui not reading")
	}
}
