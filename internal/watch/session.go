// Package watch follows one user's scan job until it reaches a terminal phase.
//
// A Session receives scan signals over the push stream (falling back to
// polling), polls queue position while the job is queued and polls bot status
// and online users for the queue summary. Every change is formatted through package phase and
// announced through a notify.Deduplicator. Observers read Snapshot after each
// Updates tick.
package watch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ensigniasec/scanwatch/internal/api"
	"github.com/ensigniasec/scanwatch/internal/clock"
	"github.com/ensigniasec/scanwatch/internal/notify"
	"github.com/ensigniasec/scanwatch/internal/phase"
	"github.com/ensigniasec/scanwatch/internal/poll"
)

// retryHint is appended to the error shown once status polling has stopped auto-retrying.
const retryHint = " - will retry automatically on the next update"

// Source is the remote API as seen by a session. *api.Client satisfies it.
type Source interface {
	ScanStatus(ctx context.Context, userID string) (phase.Signal, error)
	StreamSignals(ctx context.Context, userID string, onSignal func(phase.Signal)) error
	QueuePosition(ctx context.Context, userID string) (int, error)
	BotStatus(ctx context.Context) (api.QueueInfo, error)
	OnlineUsers(ctx context.Context) ([]api.OnlineUser, error)
}

// Options configures a Session. Zero intervals fall back to defaults.
// MaxRetries and RetryDelay honour zero (no auto-retry, immediate retry);
// only negative values select the poll defaults.
type Options struct {
	UserID string
	// Stream prefers the push transport; polling is used when it is false or the stream fails.
	Stream           bool
	StatusInterval   time.Duration
	PositionInterval time.Duration
	QueueInterval    time.Duration
	OnlineInterval   time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	Clock            clock.Clock
	Notifier         *notify.Deduplicator
	// OnPhase is called outside the session lock whenever the phase changes.
	OnPhase func(phase.Phase)
}

func (o Options) withDefaults() Options {
	if o.StatusInterval <= 0 {
		o.StatusInterval = 3 * time.Second
	}
	if o.PositionInterval <= 0 {
		o.PositionInterval = 5 * time.Second
	}
	if o.QueueInterval <= 0 {
		o.QueueInterval = 30 * time.Second
	}
	if o.OnlineInterval <= 0 {
		o.OnlineInterval = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = poll.DefaultMaxRetries
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = poll.DefaultRetryDelay
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Notifier == nil {
		o.Notifier = notify.Default()
	}
	return o
}

// RetryState describes the status poller's auto-retry progress.
type RetryState struct {
	RetryCount       int
	MaxRetries       int
	LastError        string
	CountdownSeconds int
}

// Exhausted reports whether auto-retry has given up until the next interval tick.
func (r RetryState) Exhausted() bool {
	return r.LastError != "" && r.RetryCount >= r.MaxRetries
}

// Snapshot is everything a view needs to render the session.
type Snapshot struct {
	UserID      string
	Signal      phase.Signal
	HasSignal   bool
	Message     string
	ButtonLabel string
	Position    int
	HasPosition bool
	Queue       api.QueueInfo
	HasQueue    bool
	Online      int
	HasOnline   bool
	Retry       RetryState
	Transport   string
	Done        bool
	UpdatedAt   time.Time
}

// Session is one watch of one user's scan job. Create it with New and call Run once.
type Session struct {
	src      Source
	opts     Options
	notifier *notify.Deduplicator
	log      *logrus.Entry
	updates  chan struct{}

	mu          sync.Mutex
	sig         phase.Signal
	hasSig      bool
	updatedAt   time.Time
	position    int
	hasPosition bool
	queue       api.QueueInfo
	hasQueue    bool
	online      int
	hasOnline   bool
	status      poll.State[phase.Signal]
	transport   string
	lastNotice  string
	done        bool
	stopped     bool
	group       *errgroup.Group
	groupCtx    context.Context
	cancel      context.CancelFunc
	posCancel   context.CancelFunc
	finished    chan struct{}

	// live subscriptions, for Refresh
	statusSub *poll.Subscription[phase.Signal]
	posSub    *poll.Subscription[queueSlot]
	queueSub  *poll.Subscription[api.QueueInfo]
	onlineSub *poll.Subscription[[]api.OnlineUser]
}

// queueSlot is one queue position poll; a user who is not queued is a
// successful result with Queued false, not a failure.
type queueSlot struct {
	Position int
	Queued   bool
}

// New prepares a session for opts.UserID.
func New(src Source, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		src:      src,
		opts:     opts,
		notifier: opts.Notifier,
		log:      logrus.WithField("user_id", opts.UserID),
		updates:  make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
}

// Updates delivers a coalesced signal after every snapshot change. It is never closed;
// use Done to learn that the session ended.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.finished }

// Run watches until a terminal phase, Stop, or cancellation of ctx.
// It returns nil for the first two and ctx.Err() for the last.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.finished)
	if s.opts.UserID == "" {
		return fmt.Errorf("%w: empty user id", api.ErrValidation)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.group, s.groupCtx, s.cancel = g, gctx, cancel
	s.mu.Unlock()

	s.mu.Lock()
	connecting, _ := s.displayLocked()
	s.lastNotice = connecting
	s.mu.Unlock()
	s.notifier.ShowLoading(connecting)
	s.startQueuePolling(gctx, g)
	s.startOnlinePolling(gctx, g)
	if s.opts.Stream {
		s.setTransport("stream")
		g.Go(func() error { return s.stream(gctx, g) })
	} else {
		s.startStatusPolling(gctx, g)
	}

	err := g.Wait()

	s.mu.Lock()
	done := s.done
	stopped := s.stopped
	s.group = nil
	s.mu.Unlock()

	switch {
	case done || stopped:
		if !done {
			s.notifier.DismissLoading("")
		}
		return nil
	case ctx.Err() != nil:
		s.notifier.DismissLoading("")
		return ctx.Err()
	default:
		return err
	}
}

// Stop ends the session as if the user quit. Safe to call at any time.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.signal()
}

// Snapshot returns the current view state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Clock.Now()
	snap := Snapshot{
		UserID:      s.opts.UserID,
		Signal:      s.sig,
		HasSignal:   s.hasSig,
		Position:    s.position,
		HasPosition: s.hasPosition,
		Queue:       s.queue,
		HasQueue:    s.hasQueue,
		Online:      s.online,
		HasOnline:   s.hasOnline,
		Transport:   s.transport,
		Done:        s.done,
		UpdatedAt:   s.updatedAt,
		Retry: RetryState{
			RetryCount:       s.status.RetryCount,
			MaxRetries:       s.opts.MaxRetries,
			CountdownSeconds: int(math.Ceil(s.status.RetryIn(now).Seconds())),
		},
	}
	if s.status.Err != nil {
		snap.Retry.LastError = s.status.Err.Error()
	}
	snap.Message, snap.ButtonLabel = s.displayLocked()
	return snap
}

// displayLocked formats the current signal, folding in the polled queue position
// when the signal's own message does not carry one.
func (s *Session) displayLocked() (string, string) {
	if !s.hasSig {
		label := phase.FormatActiveButtonLabel(phase.Connecting, "")
		return label, label
	}
	sig := s.sig
	if sig.Phase == phase.Queued && s.hasPosition {
		if _, ok := phase.QueuePosition(sig.Message); !ok {
			sig.Message = fmt.Sprintf("Position %d", s.position)
		}
	}
	return sig.ProgressMessage(), sig.ButtonLabel()
}

func (s *Session) stream(ctx context.Context, g *errgroup.Group) error {
	err := s.src.StreamSignals(ctx, s.opts.UserID, s.applySignal)
	if ctx.Err() != nil {
		return nil
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return nil
	}
	if err != nil {
		s.log.WithError(err).Warn("signal stream failed, falling back to polling")
	} else {
		s.log.Debug("signal stream closed before a terminal phase, falling back to polling")
	}
	s.startStatusPolling(ctx, g)
	return nil
}

func (s *Session) startStatusPolling(ctx context.Context, g *errgroup.Group) {
	s.setTransport("poll")
	sub := poll.Start(func(ctx context.Context) (phase.Signal, error) {
		return s.src.ScanStatus(ctx, s.opts.UserID)
	}, s.opts.StatusInterval, s.pollOptions(ctx, "scan_status")...)
	s.mu.Lock()
	s.statusSub = sub
	s.mu.Unlock()
	g.Go(func() error { return consume(ctx, sub, s.applyStatusState) })
}

func (s *Session) startQueuePolling(ctx context.Context, g *errgroup.Group) {
	sub := poll.Start(s.src.BotStatus, s.opts.QueueInterval, s.pollOptions(ctx, "bot_status")...)
	s.mu.Lock()
	s.queueSub = sub
	s.mu.Unlock()
	g.Go(func() error { return consume(ctx, sub, s.applyQueueState) })
}

func (s *Session) startOnlinePolling(ctx context.Context, g *errgroup.Group) {
	sub := poll.Start(s.src.OnlineUsers, s.opts.OnlineInterval, s.pollOptions(ctx, "online_users")...)
	s.mu.Lock()
	s.onlineSub = sub
	s.mu.Unlock()
	g.Go(func() error { return consume(ctx, sub, s.applyOnlineState) })
}

// Refresh fetches every live poller now without moving its schedule.
// It is a no-op before Run and after the session ended.
func (s *Session) Refresh() {
	s.mu.Lock()
	if s.done || s.stopped || s.group == nil {
		s.mu.Unlock()
		return
	}
	var refetch []func()
	if s.statusSub != nil {
		refetch = append(refetch, s.statusSub.Refetch)
	}
	if s.posSub != nil {
		refetch = append(refetch, s.posSub.Refetch)
	}
	if s.queueSub != nil {
		refetch = append(refetch, s.queueSub.Refetch)
	}
	if s.onlineSub != nil {
		refetch = append(refetch, s.onlineSub.Refetch)
	}
	s.mu.Unlock()
	s.log.WithField("pollers", len(refetch)).Debug("manual refresh")
	for _, f := range refetch {
		f()
	}
}

func (s *Session) pollOptions(ctx context.Context, name string) []poll.Option {
	return []poll.Option{
		poll.WithClock(s.opts.Clock),
		poll.WithContext(ctx),
		poll.WithMaxRetries(s.opts.MaxRetries),
		poll.WithRetryDelay(s.opts.RetryDelay),
		poll.WithName(name),
	}
}

// consume forwards subscription changes until ctx ends, then unsubscribes.
func consume[T any](ctx context.Context, sub *poll.Subscription[T], apply func(poll.State[T])) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Changes():
			apply(sub.Snapshot())
		}
	}
}

func (s *Session) applyStatusState(st poll.State[phase.Signal]) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	prevErr := s.status.Err
	s.status = st
	s.mu.Unlock()

	if st.IsLoading {
		s.signal()
		return
	}
	if st.Err != nil {
		s.reportStatusError(st)
		s.signal()
		return
	}
	if prevErr != nil {
		s.notifier.ClearError()
		s.mu.Lock()
		s.lastNotice = ""
		s.mu.Unlock()
	}
	if st.HasData {
		s.applySignal(st.Data)
	}
}

func (s *Session) reportStatusError(st poll.State[phase.Signal]) {
	if st.RetryCount < s.opts.MaxRetries {
		s.log.WithError(st.Err).WithField("retry_count", st.RetryCount).Debug("scan status refresh failed, retrying")
		return
	}
	s.log.WithError(st.Err).Warn("scan status refresh failed")
	s.notifier.ShowError("Couldn't refresh scan status"+retryHint, "", st.Err.Error())
	s.mu.Lock()
	s.lastNotice = ""
	s.mu.Unlock()
}

// applySignal records sig as the latest signal. Last write wins.
func (s *Session) applySignal(sig phase.Signal) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	prev := s.sig.Phase
	changed := !s.hasSig || prev != sig.Phase
	s.sig, s.hasSig = sig, true
	s.updatedAt = s.opts.Clock.Now()
	message, _ := s.displayLocked()
	notice := s.lastNotice
	s.lastNotice = message
	terminal := sig.Terminal()
	if terminal {
		s.done = true
	}
	s.mu.Unlock()

	if changed {
		s.log.WithField("phase", string(sig.Phase)).Debug("phase changed")
		if s.opts.OnPhase != nil {
			s.opts.OnPhase(sig.Phase)
		}
	}
	switch {
	case terminal:
		s.announceTerminal(sig)
		s.finish()
	case changed:
		s.notifier.ShowLoading(message)
	case message != notice:
		s.notifier.UpdateLoading(message)
	}
	s.syncPositionPolling(sig.Phase)
	s.signal()
}

func (s *Session) announceTerminal(sig phase.Signal) {
	switch sig.Phase {
	case phase.Completed:
		detail := ""
		if phase.Present(sig.Message) {
			detail = sig.Message
		}
		s.notifier.ShowSuccess("Scan complete", "", detail)
		s.log.Info("scan completed")
	case phase.FailedNotInServer:
		s.notifier.ShowError(sig.ProgressMessage(), "", "")
		s.log.Warn("user not found in game")
	default:
		msg := "Scan failed"
		if phase.Present(sig.Message) {
			msg = "Scan failed: " + sig.Message
		}
		s.notifier.ShowError(msg, "", "")
		s.log.WithField("message", sig.Message).Warn("scan failed")
	}
}

// finish tears every poller down once a terminal phase is seen.
func (s *Session) finish() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// syncPositionPolling runs the queue position poller only while the job is queued.
func (s *Session) syncPositionPolling(p phase.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := p == phase.Queued && !s.done
	switch {
	case queued && s.posCancel == nil && s.group != nil:
		ctx, cancel := context.WithCancel(s.groupCtx)
		s.posCancel = cancel
		sub := poll.Start(func(ctx context.Context) (queueSlot, error) {
			pos, err := s.src.QueuePosition(ctx, s.opts.UserID)
			switch {
			case api.IsNotQueued(err):
				return queueSlot{}, nil
			case err != nil:
				return queueSlot{}, err
			}
			return queueSlot{Position: pos, Queued: true}, nil
		}, s.opts.PositionInterval, s.pollOptions(ctx, "queue_position")...)
		s.posSub = sub
		s.group.Go(func() error { return consume(ctx, sub, s.applyPositionState) })
	case !queued && s.posCancel != nil:
		s.posCancel()
		s.posCancel = nil
		s.posSub = nil
		s.hasPosition = false
	}
}

func (s *Session) applyPositionState(st poll.State[queueSlot]) {
	if st.IsLoading {
		return
	}
	s.mu.Lock()
	if s.done || s.posCancel == nil {
		s.mu.Unlock()
		return
	}
	switch {
	case st.Err != nil:
		s.log.WithError(st.Err).Debug("queue position refresh failed")
	case st.HasData:
		s.position, s.hasPosition = st.Data.Position, st.Data.Queued
	}
	message, _ := s.displayLocked()
	update := s.hasSig && message != s.lastNotice
	if update {
		s.lastNotice = message
	}
	s.mu.Unlock()

	if update {
		s.notifier.UpdateLoading(message)
	}
	s.signal()
}

func (s *Session) applyQueueState(st poll.State[api.QueueInfo]) {
	if st.IsLoading {
		return
	}
	s.mu.Lock()
	if st.HasData {
		s.queue, s.hasQueue = st.Data, true
	}
	s.mu.Unlock()
	if st.Err != nil {
		s.log.WithError(st.Err).Debug("bot status refresh failed")
	}
	s.signal()
}

func (s *Session) applyOnlineState(st poll.State[[]api.OnlineUser]) {
	if st.IsLoading {
		return
	}
	s.mu.Lock()
	if st.HasData {
		s.online, s.hasOnline = len(st.Data), true
	}
	s.mu.Unlock()
	if st.Err != nil {
		s.log.WithError(st.Err).Debug("online users refresh failed")
	}
	s.signal()
}

func (s *Session) setTransport(t string) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	s.signal()
}

func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
