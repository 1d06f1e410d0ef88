package notify

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	Kind    string
	Handle  Handle
	Message string
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) add(kind string, h Handle, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{Kind: kind, Handle: h, Message: msg})
}

func (s *recordingSink) Loading(h Handle, m string)    { s.add("loading", h, m) }
func (s *recordingSink) Update(h Handle, m string)     { s.add("update", h, m) }
func (s *recordingSink) Success(h Handle, m, _ string) { s.add("success", h, m) }
func (s *recordingSink) Error(h Handle, m, _ string)   { s.add("error", h, m) }
func (s *recordingSink) Dismiss(h Handle)              { s.add("dismiss", h, "") }

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestDeduplicator() (*Deduplicator, *recordingSink) {
	sink := &recordingSink{}
	d := New(sink)
	n := 0
	d.newHandle = func() Handle {
		n++
		return Handle(fmt.Sprintf("h%d", n))
	}
	return d, sink
}

func TestShowLoading_ReplacesPrevious(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	first := d.ShowLoading("Connecting...")
	second := d.ShowLoading("Queued for scan")

	require.NotEqual(t, first, second)
	assert.Equal(t, []event{
		{Kind: "loading", Handle: "h1", Message: "Connecting..."},
		{Kind: "dismiss", Handle: "h1"},
		{Kind: "loading", Handle: "h2", Message: "Queued for scan"},
	}, sink.events)

	loading, _ := d.Active()
	assert.Equal(t, second, loading)
}

func TestShowSuccess_MorphsTrackedLoading(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	h := d.ShowLoading("Scanning...")
	got := d.ShowSuccess("Scan complete", "", "")

	assert.Equal(t, h, got)
	assert.Equal(t, []string{"loading", "success"}, sink.kinds())

	// The loading reference is released, so a bare dismiss must not touch anything.
	d.DismissLoading("")
	assert.Equal(t, []string{"loading", "success"}, sink.kinds())
}

func TestShowSuccess_WithoutLoadingCreatesIndependent(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	got := d.ShowSuccess("Saved", "", "")
	assert.Equal(t, Handle("h1"), got)
	assert.Equal(t, []event{{Kind: "success", Handle: "h1", Message: "Saved"}}, sink.events)
}

func TestShowError_TracksSingleError(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	d.ShowLoading("Scanning...")
	first := d.ShowError("Request failed", "", "")
	second := d.ShowError("Request failed again", "", "")

	assert.Equal(t, Handle("h1"), first)
	assert.Equal(t, Handle("h2"), second)
	assert.Equal(t, []event{
		{Kind: "loading", Handle: "h1", Message: "Scanning..."},
		{Kind: "error", Handle: "h1", Message: "Request failed"},
		{Kind: "dismiss", Handle: "h1"},
		{Kind: "error", Handle: "h2", Message: "Request failed again"},
	}, sink.events)

	loading, errored := d.Active()
	assert.Empty(t, loading)
	assert.Equal(t, second, errored)
}

func TestShowLoading_RetiresStaleError(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	errH := d.ShowError("Lookup failed", "", "")
	d.ShowLoading("Retrying scan...")

	assert.Equal(t, []event{
		{Kind: "error", Handle: errH, Message: "Lookup failed"},
		{Kind: "dismiss", Handle: errH},
		{Kind: "loading", Handle: "h2", Message: "Retrying scan..."},
	}, sink.events)
}

func TestClearError_Idempotent(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	d.ShowError("boom", "", "")
	d.ClearError()
	d.ClearError()
	d.ClearError()
	assert.Equal(t, []string{"error", "dismiss"}, sink.kinds())
}

func TestDismissLoading_ExplicitHandle(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	old := d.ShowLoading("one")
	current := d.ShowLoading("two")

	// Dismissing a stale handle leaves the tracked one alone.
	d.DismissLoading(old)
	loading, _ := d.Active()
	assert.Equal(t, current, loading)

	d.DismissLoading(current)
	loading, _ = d.Active()
	assert.Empty(t, loading)
	assert.Equal(t, []string{"loading", "dismiss", "loading", "dismiss", "dismiss"}, sink.kinds())
}

func TestUpdateLoading(t *testing.T) {
	t.Parallel()

	d, sink := newTestDeduplicator()
	h1 := d.UpdateLoading("Queued for scan")
	h2 := d.UpdateLoading("Queued for scan - Position 3")

	assert.Equal(t, h1, h2)
	assert.Equal(t, []string{"loading", "update"}, sink.kinds())
}

func TestDeduplicator_ConcurrentLoadingKeepsOneHandle(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	d := New(sink)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ShowLoading(fmt.Sprintf("tick %d", i))
		}()
	}
	wg.Wait()

	live := map[Handle]bool{}
	for _, e := range sink.events {
		switch e.Kind {
		case "loading":
			live[e.Handle] = true
		case "dismiss":
			delete(live, e.Handle)
		}
	}
	assert.Len(t, live, 1)
}

func TestDefault_SetDefault(t *testing.T) {
	sink := &recordingSink{}
	prev := Default()
	SetDefault(New(sink))
	t.Cleanup(func() { SetDefault(prev) })

	ShowLoading("a")
	UpdateLoading("b")
	ShowError("c", "", "")
	ClearError()
	DismissLoading("")
	ShowSuccess("d", "", "")
	assert.Equal(t, []string{"loading", "update", "error", "dismiss", "success"}, sink.kinds())
}
