package notify

import "github.com/sirupsen/logrus"

// LogSink writes notifications as log lines. Used by the plain CLI output mode.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) logger(h Handle) logrus.FieldLogger {
	l := s.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("notification", string(h))
}

func (s LogSink) Loading(h Handle, message string) { s.logger(h).Info(message) }

func (s LogSink) Update(h Handle, message string) { s.logger(h).Info(message) }

func (s LogSink) Success(h Handle, message, description string) {
	s.logger(h).WithField("detail", description).Info(message)
}

func (s LogSink) Error(h Handle, message, description string) {
	s.logger(h).WithField("detail", description).Warn(message)
}

func (s LogSink) Dismiss(h Handle) { s.logger(h).Debug("dismissed") }
