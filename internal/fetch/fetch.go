package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries   = 2
	defaultInitialDelay = 750 * time.Millisecond
	defaultTimeout      = 10 * time.Second
	// maxBackoffInterval only caps pathological configurations; the default schedule never reaches it.
	maxBackoffInterval = 5 * time.Minute
	// drainLimit bounds how much of a discarded response body is read before closing it.
	drainLimit = 64 << 10
)

// DefaultRetryableStatuses are the HTTP statuses that consume a retry instead of returning.
//
//nolint:gochecknoglobals // read-only default table.
var DefaultRetryableStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooEarly,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// retryableTokens are lower-cased fragments of transport error messages that indicate a transient failure.
//
//nolint:gochecknoglobals // read-only lookup table.
var retryableTokens = []string{
	"fetch failed",
	"timeout",
	"connect",
	"econnreset",
	"econnrefused",
	"etimedout",
	"eai_again",
	"enotfound",
	"connection reset",
	"broken pipe",
	"no such host",
	"eof",
}

// Options configures a single Do call. Start from DefaultOptions and override fields;
// a zero MaxRetries means "no retries", not "use the default".
type Options struct {
	MaxRetries        int
	InitialDelay      time.Duration
	Timeout           time.Duration
	RetryableStatuses []int
	// Jitter is the backoff randomization factor in [0,1). Zero reproduces the plain doubling schedule.
	Jitter float64
	// Sleep waits between attempts. Tests replace it to observe the schedule without waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns 2 retries, 750ms initial delay, a 10s per-attempt timeout and DefaultRetryableStatuses.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        defaultMaxRetries,
		InitialDelay:      defaultInitialDelay,
		Timeout:           defaultTimeout,
		RetryableStatuses: slices.Clone(DefaultRetryableStatuses),
	}
}

func (o Options) normalize() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RetryableStatuses == nil {
		o.RetryableStatuses = DefaultRetryableStatuses
	}
	if o.Jitter < 0 || o.Jitter >= 1 {
		o.Jitter = 0
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

func (o Options) retryableStatus(code int) bool {
	return slices.Contains(o.RetryableStatuses, code)
}

// schedule returns the delay generator: InitialDelay × 2ⁿ for the n-th retry.
func (o Options) schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.InitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = o.Jitter
	b.MaxInterval = maxBackoffInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ExhaustedError is returned when every attempt failed with a transport error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do sends req, retrying transient failures with exponential backoff.
//
// Each attempt runs under its own Timeout. A response with a retryable status is retried;
// when retries run out the last such response is returned with a nil error so callers can
// inspect it. Non-retryable statuses are returned on the first attempt. Cancellation of ctx
// is never retried. The returned body must be closed by the caller.
func Do(ctx context.Context, client *http.Client, req *http.Request, opts Options) (*http.Response, error) {
	opts = opts.normalize()
	if client == nil {
		client = http.DefaultClient
	}
	maxRetries := opts.MaxRetries
	if !replayable(req) {
		maxRetries = 0
	}
	delays := opts.schedule()
	log := logrus.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.Redacted()})

	for attempt := 0; ; attempt++ {
		resp, err := attemptOnce(ctx, client, req, opts.Timeout, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !IsRetryableError(err) {
				return nil, err
			}
			if attempt >= maxRetries {
				return nil, &ExhaustedError{Attempts: attempt + 1, Err: err}
			}
		} else {
			if !opts.retryableStatus(resp.StatusCode) || attempt >= maxRetries {
				return resp, nil
			}
			drainAndClose(resp)
		}

		delay := delays.NextBackOff()
		log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
			"status":  statusOf(resp),
			"error":   errString(err),
		}).Debug("retrying request")
		if err := opts.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func attemptOnce(ctx context.Context, client *http.Client, req *http.Request, timeout time.Duration, attempt int) (*http.Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	r := req.Clone(actx)
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		r.Body = body
	}
	resp, err := client.Do(r)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// IsRetryableError reports whether a transport error is worth another attempt:
// deadlines, network timeouts, and connection-level failures recognised by message.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, tok := range retryableTokens {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// cancelOnClose releases the attempt context once the caller is done with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
