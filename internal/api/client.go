package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensigniasec/scanwatch/internal/fetch"
)

const (
	// DefaultBaseURL is used when neither config nor flags set one.
	DefaultBaseURL = "https://api.example-values.gg/v1"

	healthProbeTimeout = 3 * time.Second
)

// HealthStatus is the cached outcome of the /health probe.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// Paths holds the endpoint templates. Status and online paths are deployment specific.
type Paths struct {
	QueuePosition string
	BotStatus     string
	OnlineUsers   string
	ScanStatus    string
	ScanStream    string
}

// DefaultPaths returns the endpoint layout of the public API.
func DefaultPaths() Paths {
	return Paths{
		QueuePosition: "/queue/position/",
		BotStatus:     "/bot/status",
		OnlineUsers:   "/users/online",
		ScanStatus:    "/scan/status/",
		ScanStream:    "/scan/stream/",
	}
}

// Client talks to the scan queue API. All requests go through fetch.Do.
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	userAgent       string
	defaultIdentity Identity
	paths           Paths
	retry           fetch.Options
	log             logrus.FieldLogger

	// Cached health state for one-shot health probing.
	healthOnce   sync.Once
	healthStatus HealthStatus
	healthErr    error
	forceOffline atomic.Bool

	// skipHealthProbe disables the initial /health check; used by tests.
	skipHealthProbe bool
}

// ClientOption mutates Client configuration.
type ClientOption func(*Client)

// WithBaseURL configures the API base URL for production or tests.
func WithBaseURL(base string) ClientOption { //nolint:ireturn
	return func(c *Client) {
		if base == "" {
			return
		}
		if u, err := url.Parse(base); err == nil {
			c.baseURL = u
		}
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) ClientOption { //nolint:ireturn
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryOptions overrides the retry policy applied to every request.
func WithRetryOptions(o fetch.Options) ClientOption { //nolint:ireturn
	return func(c *Client) {
		c.retry = o
	}
}

// WithPaths overrides endpoint paths. Empty fields keep their defaults.
func WithPaths(p Paths) ClientOption { //nolint:ireturn
	return func(c *Client) {
		if p.QueuePosition != "" {
			c.paths.QueuePosition = p.QueuePosition
		}
		if p.BotStatus != "" {
			c.paths.BotStatus = p.BotStatus
		}
		if p.OnlineUsers != "" {
			c.paths.OnlineUsers = p.OnlineUsers
		}
		if p.ScanStatus != "" {
			c.paths.ScanStatus = p.ScanStatus
		}
		if p.ScanStream != "" {
			c.paths.ScanStream = p.ScanStream
		}
	}
}

// WithIdentityDefault sets the identity attached when the request context carries none.
func WithIdentityDefault(id Identity) ClientOption { //nolint:ireturn
	return func(c *Client) {
		c.defaultIdentity = id
	}
}

// WithLogger routes client log lines to l.
func WithLogger(l logrus.FieldLogger) ClientOption { //nolint:ireturn
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// withSkipHealthProbe disables the initial /health probe.
// Intended for internal tests that don't expose a /health endpoint.
func withSkipHealthProbe() ClientOption { //nolint:ireturn
	return func(c *Client) {
		c.skipHealthProbe = true
	}
}

// NewClient constructs a Client and performs the health probe. When the probe fails the
// client is returned in offline mode together with ErrOffline so callers can decide.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		// Per-attempt timeouts come from fetch.Options; the client itself has none.
		httpClient: &http.Client{},
		userAgent:  UserAgent(),
		paths:      DefaultPaths(),
		retry:      fetch.DefaultOptions(),
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == nil {
		u, err := url.Parse(DefaultBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid default baseURL: %w", err)
		}
		c.baseURL = u
	}
	if c.skipHealthProbe {
		c.healthOnce.Do(func() { c.healthStatus = Healthy })
		return c, nil
	}
	hctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	defer cancel()
	if status, err := c.checkHealth(hctx); err != nil || status != Healthy {
		c.log.WithError(err).Debug("health probe failed, client is offline")
		c.forceOffline.Store(true)
		return c, ErrOffline
	}
	return c, nil
}

// BaseURL returns a copy of the configured base URL.
func (c *Client) BaseURL() url.URL { return *c.baseURL }

// checkHealth performs a one-time probe of /health and caches the status.
func (c *Client) checkHealth(ctx context.Context) (HealthStatus, error) {
	c.healthOnce.Do(func() {
		hctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()

		// Raw request: the probe must not go through newRequest or the retry loop.
		req, err := http.NewRequestWithContext(hctx, http.MethodGet, c.buildURL("/health", nil), nil)
		if err != nil {
			c.healthStatus, c.healthErr = Unhealthy, err
			return
		}
		c.setHeaders(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.healthStatus, c.healthErr = Unhealthy, err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			// Any 2xx is healthy; a body with a status field can still say otherwise.
			var hr struct {
				Status HealthStatus `json:"status"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&hr); err == nil && hr.Status != "" {
				c.healthStatus = hr.Status
			} else {
				c.healthStatus = Healthy
			}
			if c.healthStatus != Healthy {
				c.healthErr = fmt.Errorf("health check: status %q", c.healthStatus)
			}
			return
		}
		c.healthStatus = Unhealthy
		c.healthErr = fmt.Errorf("health check: unexpected status %d", resp.StatusCode)
	})
	return c.healthStatus, c.healthErr
}

// --- Helpers ---

// joinURLPath joins two URL paths with exactly one slash boundary.
func joinURLPath(basePath, addPath string) string {
	switch {
	case basePath == "" || basePath == "/":
		return addPath
	case addPath == "":
		return basePath
	case hasTrailingSlash(basePath) && hasLeadingSlash(addPath):
		return basePath + addPath[1:]
	case !hasTrailingSlash(basePath) && !hasLeadingSlash(addPath):
		return basePath + "/" + addPath
	default:
		return basePath + addPath
	}
}

func hasTrailingSlash(p string) bool { return len(p) > 0 && p[len(p)-1] == '/' }
func hasLeadingSlash(p string) bool  { return len(p) > 0 && p[0] == '/' }

func (c *Client) buildURL(path string, q url.Values) string {
	u := *c.baseURL
	setEscapedPath(&u, joinURLPath(u.EscapedPath(), path))
	u.RawQuery = q.Encode()
	return u.String()
}

// setEscapedPath keeps escaped segments such as %2F intact in the final URL.
func setEscapedPath(u *url.URL, escaped string) {
	if p, err := url.PathUnescape(escaped); err == nil {
		u.Path, u.RawPath = p, escaped
		return
	}
	u.Path, u.RawPath = escaped, ""
}

// resourcePath appends an escaped identifier to a path prefix.
func resourcePath(prefix, id string) string {
	return joinURLPath(prefix, url.PathEscape(id))
}

func (c *Client) setHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	// Status endpoints change every few seconds; intermediaries must not serve stale copies.
	req.Header.Set("Cache-Control", "no-store")
}

func (c *Client) newRequest(ctx context.Context, method, fullURL string, body io.Reader) (*http.Request, error) {
	if c.forceOffline.Load() {
		return nil, ErrOffline
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	c.identityFor(ctx).apply(req.Header)
	return req, nil
}

// get issues a GET through the retrying fetch client and returns the final response.
// The caller closes the body.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.buildURL(path, nil), nil)
	if err != nil {
		return nil, err
	}
	resp, err := fetch.Do(ctx, c.httpClient, req, c.retry)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func decodeJSON[T any](r io.Reader, out *T) error {
	dec := json.NewDecoder(r)
	return dec.Decode(out)
}
