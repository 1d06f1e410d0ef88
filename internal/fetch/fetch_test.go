package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingOptions returns default options whose sleeps are recorded instead of waited out.
func recordingOptions(delays *[]time.Duration) Options {
	opts := DefaultOptions()
	opts.Sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return opts
}

func statusServer(t *testing.T, hits *atomic.Int32, statuses ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
		_, _ = io.WriteString(w, strconv.Itoa(statuses[n]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDo_RetryableStatusesExhaustRetries(t *testing.T) {
	t.Parallel()

	for _, code := range DefaultRetryableStatuses {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			t.Parallel()
			var hits atomic.Int32
			srv := statusServer(t, &hits, code)

			var delays []time.Duration
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)

			resp, err := Do(context.Background(), srv.Client(), req, recordingOptions(&delays))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, code, resp.StatusCode)
			assert.Equal(t, int32(3), hits.Load())
			assert.Equal(t, []time.Duration{750 * time.Millisecond, 1500 * time.Millisecond}, delays)
		})
	}
}

func TestDo_BackoffDoublesFromInitialDelay(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusServer(t, &hits, http.StatusServiceUnavailable)

	var delays []time.Duration
	opts := recordingOptions(&delays)
	opts.MaxRetries = 4
	opts.InitialDelay = 100 * time.Millisecond

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := Do(context.Background(), srv.Client(), req, opts)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(5), hits.Load())
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, delays)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusNotFound, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			t.Parallel()
			var hits atomic.Int32
			srv := statusServer(t, &hits, code)

			var delays []time.Duration
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			resp, err := Do(context.Background(), srv.Client(), req, recordingOptions(&delays))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, code, resp.StatusCode)
			assert.Equal(t, int32(1), hits.Load())
			assert.Empty(t, delays)
		})
	}
}

func TestDo_RecoversAfterTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusServer(t, &hits, http.StatusBadGateway, http.StatusOK)

	var delays []time.Duration
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := Do(context.Background(), srv.Client(), req, recordingOptions(&delays))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "200", string(body))
	assert.Equal(t, int32(2), hits.Load())
	assert.Len(t, delays, 1)
}

func TestDo_AttemptTimeoutIsRetriedThenSurfaced(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	var delays []time.Duration
	opts := recordingOptions(&delays)
	opts.Timeout = 20 * time.Millisecond
	opts.MaxRetries = 1

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := Do(context.Background(), srv.Client(), req, opts)
	require.Nil(t, resp)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, delays, 1)
}

func TestDo_ReplaysBodyOnRetry(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		bodies []string
		hits   atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	var delays []time.Duration
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader([]byte(`{"user_id":"42"}`)))
	require.NoError(t, err)
	resp, err := Do(context.Background(), srv.Client(), req, recordingOptions(&delays))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"user_id":"42"}`, `{"user_id":"42"}`}, bodies)
}

func TestDo_ParentCancellationStopsRetrying(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusServer(t, &hits, http.StatusServiceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	opts := DefaultOptions()
	opts.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := Do(ctx, srv.Client(), req, opts)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDo_ZeroRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusServer(t, &hits, http.StatusTooManyRequests)

	var delays []time.Duration
	opts := recordingOptions(&delays)
	opts.MaxRetries = 0

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := Do(context.Background(), srv.Client(), req, opts)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, delays)
}

func TestSchedule_JitterStaysWithinBounds(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Jitter = 0.5
	b := opts.normalize().schedule()
	for n := range 4 {
		base := float64(opts.InitialDelay) * float64(int(1)<<n)
		d := float64(b.NextBackOff())
		assert.GreaterOrEqual(t, d, base*0.5, "retry %d", n)
		assert.LessOrEqual(t, d, base*1.5+1, "retry %d", n)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: fmt.Errorf("get: %w", context.Canceled), want: false},
		{name: "net timeout", err: timeoutErr{}, want: true},
		{name: "fetch failed", err: errors.New("TypeError: fetch failed"), want: true},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), want: true},
		{name: "reset token", err: errors.New("read: ECONNRESET"), want: true},
		{name: "dns", err: errors.New("lookup bots.internal: no such host"), want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "plain", err: errors.New("invalid character '<' looking for beginning of value"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
