// Package notify keeps user-facing status messages from stacking up.
//
// A Deduplicator tracks at most one loading notification and one error
// notification. New loading messages replace the old one, and terminal
// messages morph the tracked loading slot in place instead of adding a second line.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle identifies one live notification slot.
type Handle string

// Sink renders notifications. Implementations must tolerate Dismiss or Update
// on a handle they no longer show.
type Sink interface {
	Loading(h Handle, message string)
	Update(h Handle, message string)
	Success(h Handle, message, description string)
	Error(h Handle, message, description string)
	Dismiss(h Handle)
}

// Deduplicator funnels every notification through two tracked slots.
type Deduplicator struct {
	sink      Sink
	newHandle func() Handle

	mu      sync.Mutex
	loading Handle
	errored Handle
}

// New returns a Deduplicator that renders to sink.
func New(sink Sink) *Deduplicator {
	return &Deduplicator{
		sink:      sink,
		newHandle: func() Handle { return Handle(uuid.NewString()) },
	}
}

// ShowLoading dismisses any tracked loading notification and any stale error, then shows a new loading one.
func (d *Deduplicator) ShowLoading(message string) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loading != "" {
		d.sink.Dismiss(d.loading)
	}
	d.clearErrorLocked()
	d.loading = d.newHandle()
	d.sink.Loading(d.loading, message)
	return d.loading
}

// UpdateLoading rewrites the tracked loading notification, creating one if none is live.
func (d *Deduplicator) UpdateLoading(message string) Handle {
	d.mu.Lock()
	if d.loading == "" {
		d.mu.Unlock()
		return d.ShowLoading(message)
	}
	defer d.mu.Unlock()
	d.sink.Update(d.loading, message)
	return d.loading
}

// ShowSuccess turns h, or the tracked loading notification when h is empty, into a success message.
func (d *Deduplicator) ShowSuccess(message string, h Handle, description string) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	target := d.terminalTargetLocked(h)
	d.sink.Success(target, message, description)
	d.loading = ""
	return target
}

// ShowError turns h, or the tracked loading notification when h is empty, into an error message.
// A previously tracked error is retired first so only one error is ever visible.
func (d *Deduplicator) ShowError(message string, h Handle, description string) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	target := d.terminalTargetLocked(h)
	if d.errored != "" && d.errored != target {
		d.sink.Dismiss(d.errored)
	}
	d.sink.Error(target, message, description)
	d.errored = target
	d.loading = ""
	return target
}

// DismissLoading removes h, or the tracked loading notification when h is empty.
// With no argument and nothing tracked it does nothing.
func (d *Deduplicator) DismissLoading(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == "" {
		h = d.loading
	}
	if h == "" {
		return
	}
	d.sink.Dismiss(h)
	if h == d.loading {
		d.loading = ""
	}
}

// ClearError removes the tracked error notification. Safe to call repeatedly.
func (d *Deduplicator) ClearError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearErrorLocked()
}

// Active returns the currently tracked loading and error handles.
func (d *Deduplicator) Active() (loading, errored Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading, d.errored
}

func (d *Deduplicator) clearErrorLocked() {
	if d.errored == "" {
		return
	}
	d.sink.Dismiss(d.errored)
	d.errored = ""
}

func (d *Deduplicator) terminalTargetLocked(h Handle) Handle {
	switch {
	case h != "":
		return h
	case d.loading != "":
		return d.loading
	default:
		return d.newHandle()
	}
}

// Process-wide channel. Notifications are a single visual surface, so the
// CLI installs one Deduplicator at startup and everything else goes through it.
//
//nolint:gochecknoglobals // single shared notification channel.
var std atomic.Pointer[Deduplicator]

// Default returns the process-wide Deduplicator, logging through logrus until SetDefault is called.
func Default() *Deduplicator {
	if d := std.Load(); d != nil {
		return d
	}
	std.CompareAndSwap(nil, New(LogSink{}))
	return std.Load()
}

// SetDefault replaces the process-wide Deduplicator.
func SetDefault(d *Deduplicator) {
	std.Store(d)
}

// ShowLoading calls ShowLoading on the default Deduplicator.
func ShowLoading(message string) Handle { return Default().ShowLoading(message) }

// UpdateLoading calls UpdateLoading on the default Deduplicator.
func UpdateLoading(message string) Handle { return Default().UpdateLoading(message) }

// ShowSuccess calls ShowSuccess on the default Deduplicator.
func ShowSuccess(message string, h Handle, description string) Handle {
	return Default().ShowSuccess(message, h, description)
}

// ShowError calls ShowError on the default Deduplicator.
func ShowError(message string, h Handle, description string) Handle {
	return Default().ShowError(message, h, description)
}

// DismissLoading calls DismissLoading on the default Deduplicator.
func DismissLoading(h Handle) { Default().DismissLoading(h) }

// ClearError calls ClearError on the default Deduplicator.
func ClearError() { Default().ClearError() }
