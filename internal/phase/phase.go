// Package phase turns remote scan status signals into stable display strings.
//
// Phases are reported by the scanning backend; this package never computes one.
// The free-text message that accompanies a phase is treated as untrusted prose:
// recognisers are tried in a fixed order and every path ends in a generic string.
package phase

import "strings"

// Phase is the lifecycle stage of a scan job as reported by the remote queue.
type Phase string

const (
	Connecting        Phase = "connecting"
	Requested         Phase = "requested"
	Retrying          Phase = "retrying"
	Queued            Phase = "queued"
	UserFound         Phase = "user_found"
	BotJoined         Phase = "bot_joined"
	Scanning          Phase = "scanning"
	Completed         Phase = "completed"
	FailedNotInServer Phase = "failed_not_in_server"
	Error             Phase = "error"
)

// All lists every known phase in lifecycle order.
//
//nolint:gochecknoglobals // read-only enumeration.
var All = []Phase{
	Connecting, Requested, Retrying, Queued, UserFound,
	BotJoined, Scanning, Completed, FailedNotInServer, Error,
}

// Valid reports whether p is one of the known tags. Unknown tags are still formatted.
func (p Phase) Valid() bool {
	for _, known := range All {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further signals are expected after p.
func (p Phase) Terminal() bool {
	switch p {
	case Completed, FailedNotInServer, Error:
		return true
	default:
		return false
	}
}

// Failed reports whether p is a terminal failure.
func (p Phase) Failed() bool {
	return p == FailedNotInServer || p == Error
}

// Signal is one status snapshot received from the remote system.
// The most recently received signal is authoritative; there is no sequence number.
type Signal struct {
	Phase    Phase    `json:"phase,omitempty"    validate:"omitempty,scan_phase"`
	Message  string   `json:"message,omitempty"`
	Progress *float64 `json:"progress,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// ProgressMessage formats the signal with FormatProgressMessage.
func (s Signal) ProgressMessage() string {
	return FormatProgressMessage(s.Phase, s.Message, s.Progress)
}

// ButtonLabel formats the signal with FormatActiveButtonLabel.
func (s Signal) ButtonLabel() string {
	return FormatActiveButtonLabel(s.Phase, s.Message)
}

// Terminal reports whether the signal carries a terminal phase.
func (s Signal) Terminal() bool { return s.Phase.Terminal() }

// Percent returns a copy of v suitable for Signal.Progress.
func Percent(v float64) *float64 { return &v }

// Present reports whether message carries any non-whitespace text.
// Whitespace-only messages are treated as absent everywhere.
func Present(message string) bool {
	return strings.TrimSpace(message) != ""
}
