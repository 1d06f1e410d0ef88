// Package poll refreshes a remote resource on a fixed interval.
//
// A Subscription owns two timers: the interval tick and a single pending
// auto-retry scheduled after a failure. The retry never resets the interval.
// Unsubscribe stops both and cancels any in-flight fetch; after it returns the
// subscription state no longer changes.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensigniasec/scanwatch/internal/clock"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
)

// Fetcher loads one snapshot of a resource.
type Fetcher[T any] func(ctx context.Context) (T, error)

// State is a copy of a subscription's observable fields.
type State[T any] struct {
	Data       T
	HasData    bool
	Err        error
	IsLoading  bool
	RetryCount int
	// NextRetryAt is zero unless an auto-retry is pending.
	NextRetryAt time.Time
	UpdatedAt   time.Time
}

// RetryIn returns how long until the pending auto-retry fires, or zero.
func (s State[T]) RetryIn(now time.Time) time.Duration {
	if s.NextRetryAt.IsZero() || !s.NextRetryAt.After(now) {
		return 0
	}
	return s.NextRetryAt.Sub(now)
}

type config struct {
	clock      clock.Clock
	maxRetries int
	retryDelay time.Duration
	parent     context.Context
	name       string
}

// Option configures Start.
type Option func(*config)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithMaxRetries sets how many consecutive failures are auto-retried (default 3).
func WithMaxRetries(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.maxRetries = n
		}
	}
}

// WithRetryDelay sets the delay before an auto-retry (default 5s).
func WithRetryDelay(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.retryDelay = d
		}
	}
}

// WithContext sets the parent of the context passed to the fetcher.
func WithContext(ctx context.Context) Option {
	return func(cfg *config) {
		if ctx != nil {
			cfg.parent = ctx
		}
	}
}

// WithName labels log lines for this subscription.
func WithName(name string) Option {
	return func(cfg *config) { cfg.name = name }
}

// Subscription is a running poll loop. Create it with Start.
type Subscription[T any] struct {
	fetch      Fetcher[T]
	interval   time.Duration
	maxRetries int
	retryDelay time.Duration
	clock      clock.Clock
	log        *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State[T]
	tick    clock.Timer
	retry   clock.Timer
	stopped bool
	// inflight tracks fetches so Unsubscribe can wait for them to unwind.
	inflight sync.WaitGroup
	changes  chan struct{}
}

// Start begins polling fetch every interval. The first fetch is scheduled on the
// clock with zero delay rather than run inside Start.
func Start[T any](fetch Fetcher[T], interval time.Duration, opts ...Option) *Subscription[T] {
	cfg := config{
		clock:      clock.Real{},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		parent:     context.Background(),
		name:       "poll",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(cfg.parent)
	s := &Subscription[T]{
		fetch:      fetch,
		interval:   interval,
		maxRetries: cfg.maxRetries,
		retryDelay: cfg.retryDelay,
		clock:      cfg.clock,
		log:        logrus.WithField("poller", cfg.name),
		ctx:        ctx,
		cancel:     cancel,
		changes:    make(chan struct{}, 1),
	}
	s.mu.Lock()
	s.tick = s.clock.AfterFunc(0, s.onTick)
	s.mu.Unlock()
	return s
}

// Snapshot returns the current state.
func (s *Subscription[T]) Snapshot() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Changes delivers a coalesced signal after each state change. It is never closed.
func (s *Subscription[T]) Changes() <-chan struct{} {
	return s.changes
}

// Refetch starts an out-of-band fetch without touching either timer.
func (s *Subscription[T]) Refetch() {
	go s.run()
}

// Unsubscribe stops both timers, cancels the in-flight fetch and waits for it to return.
// It is safe to call more than once and from a Changes consumer.
func (s *Subscription[T]) Unsubscribe() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.mu.Unlock()
	s.cancel()
	s.inflight.Wait()
}

// Stopped reports whether Unsubscribe has been called.
func (s *Subscription[T]) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Subscription[T]) onTick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.tick = s.clock.AfterFunc(s.interval, s.onTick)
	s.mu.Unlock()
	s.run()
}

func (s *Subscription[T]) onRetry() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	s.state.NextRetryAt = time.Time{}
	s.mu.Unlock()
	s.log.Debug("auto-retrying after failure")
	s.run()
}

func (s *Subscription[T]) run() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.state.IsLoading = true
	s.inflight.Add(1)
	s.mu.Unlock()
	s.signal()

	data, err := s.fetch(s.ctx)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.inflight.Done()
		return
	}
	s.state.IsLoading = false
	if err != nil {
		s.onFailureLocked(err)
	} else {
		s.onSuccessLocked(data)
	}
	s.mu.Unlock()
	s.inflight.Done()
	s.signal()
}

func (s *Subscription[T]) onSuccessLocked(data T) {
	s.state.Data = data
	s.state.HasData = true
	s.state.Err = nil
	s.state.RetryCount = 0
	s.state.UpdatedAt = s.clock.Now()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.state.NextRetryAt = time.Time{}
}

func (s *Subscription[T]) onFailureLocked(err error) {
	s.state.Err = err
	if s.state.RetryCount < s.maxRetries {
		s.state.RetryCount++
	}
	s.log.WithError(err).WithField("retry_count", s.state.RetryCount).Debug("fetch failed")
	// At most one retry is pending; none once the cap is reached.
	if s.state.RetryCount >= s.maxRetries || s.retry != nil {
		return
	}
	s.retry = s.clock.AfterFunc(s.retryDelay, s.onRetry)
	s.state.NextRetryAt = s.clock.Now().Add(s.retryDelay)
}

func (s *Subscription[T]) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
