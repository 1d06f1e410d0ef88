package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ensigniasec/scanwatch/internal/phase"
	"github.com/ensigniasec/scanwatch/internal/validate"
)

const (
	streamHandshakeTimeout = 10 * time.Second
	streamReadLimit        = 64 << 10
)

// ScanStatus implements GET /scan/status/{userId} and returns the latest signal.
func (c *Client) ScanStatus(ctx context.Context, userID string) (phase.Signal, error) {
	if userID == "" {
		return phase.Signal{}, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	resp, err := c.get(ctx, resourcePath(c.paths.ScanStatus, userID))
	if err != nil {
		return phase.Signal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return phase.Signal{}, handleHTTPError(resp)
	}
	var sig phase.Signal
	if err := decodeJSON(resp.Body, &sig); err != nil {
		return phase.Signal{}, fmt.Errorf("decode scan status: %w", err)
	}
	return c.sanitize(sig), nil
}

// sanitize keeps signals with unrecognised phases but drops an out-of-range progress value.
func (c *Client) sanitize(sig phase.Signal) phase.Signal {
	if err := validate.Struct(sig); err == nil {
		return sig
	}
	if sig.Progress != nil && validate.Var(*sig.Progress, "gte=0,lte=100") != nil {
		c.log.WithField("progress", *sig.Progress).Debug("dropping out-of-range progress")
		sig.Progress = nil
	}
	if sig.Phase != "" && !sig.Phase.Valid() {
		c.log.WithField("phase", string(sig.Phase)).Debug("unrecognised scan phase")
	}
	return sig
}

// streamURL derives the ws(s) URL of the signal stream from the base URL.
func (c *Client) streamURL(userID string) string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	setEscapedPath(&u, joinURLPath(u.EscapedPath(), resourcePath(c.paths.ScanStream, userID)))
	u.RawQuery = ""
	return u.String()
}

// StreamSignals subscribes to pushed scan signals for userID and calls onSignal
// for each frame, in order. It returns nil after a terminal phase or a normal
// close, ctx.Err() when ctx ends, and the socket error otherwise.
func (c *Client) StreamSignals(ctx context.Context, userID string, onSignal func(phase.Signal)) error {
	if c.forceOffline.Load() {
		return ErrOffline
	}
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrValidation)
	}
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)
	header.Set("Cache-Control", "no-store")
	c.identityFor(ctx).apply(header)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: streamHandshakeTimeout,
	}
	target := c.streamURL(userID)
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return fmt.Errorf("dial signal stream: %w", handleHTTPError(resp))
		}
		return fmt.Errorf("dial signal stream: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(streamReadLimit)

	log := c.log.WithFields(logrus.Fields{"user_id": userID, "transport": "websocket"})
	log.Debug("signal stream connected")

	// Unblock ReadJSON when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var sig phase.Signal
		if err := conn.ReadJSON(&sig); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("signal stream closed by server")
				return nil
			}
			return fmt.Errorf("read signal stream: %w", err)
		}
		sig = c.sanitize(sig)
		onSignal(sig)
		if sig.Terminal() {
			return nil
		}
	}
}
