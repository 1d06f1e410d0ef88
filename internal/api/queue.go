package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Dequeue describes the most recent queue pop.
type Dequeue struct {
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// Time interprets Timestamp as Unix milliseconds, falling back to seconds for
// values too small to be a millisecond clock reading.
func (d Dequeue) Time() time.Time {
	if d.Timestamp <= 0 {
		return time.Time{}
	}
	if d.Timestamp < 1e11 {
		return time.Unix(d.Timestamp, 0)
	}
	return time.UnixMilli(d.Timestamp)
}

// QueueInfo is the slice of bot status the watch view shows.
type QueueInfo struct {
	QueueLength int      `json:"queue_length"`
	LastDequeue *Dequeue `json:"last_dequeue,omitempty"`
}

// UnmarshalJSON accepts both snake_case and camelCase keys; the bot status
// payload is not versioned and has shipped with either.
func (q *QueueInfo) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out QueueInfo
	if v, ok := pick(raw, "queue_length", "queueLength"); ok {
		if err := json.Unmarshal(v, &out.QueueLength); err != nil {
			return fmt.Errorf("queue length: %w", err)
		}
	}
	if v, ok := pick(raw, "last_dequeue", "lastDequeue"); ok && string(v) != "null" {
		var d Dequeue
		if err := d.UnmarshalJSON(v); err != nil {
			return fmt.Errorf("last dequeue: %w", err)
		}
		out.LastDequeue = &d
	}
	*q = out
	return nil
}

// UnmarshalJSON accepts user_id or userId.
func (d *Dequeue) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out Dequeue
	if v, ok := pick(raw, "user_id", "userId"); ok {
		if err := json.Unmarshal(v, &out.UserID); err != nil {
			return err
		}
	}
	if v, ok := raw["timestamp"]; ok {
		if err := json.Unmarshal(v, &out.Timestamp); err != nil {
			return err
		}
	}
	*d = out
	return nil
}

func pick(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// QueuePosition implements GET /queue/position/{userId}.
// A 404 means the user is not queued and yields ErrNotQueued.
func (c *Client) QueuePosition(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	resp, err := c.get(ctx, resourcePath(c.paths.QueuePosition, userID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			Position *int `json:"position"`
		}
		if err := decodeJSON(resp.Body, &body); err != nil {
			return 0, fmt.Errorf("decode queue position: %w", err)
		}
		if body.Position == nil {
			return 0, fmt.Errorf("%w: queue position missing from response", ErrValidation)
		}
		return *body.Position, nil
	case http.StatusNotFound:
		// Expected when the user has no queue entry; not worth more than a debug line.
		c.log.WithField("user_id", userID).Debug("user not in scan queue")
		return 0, ErrNotQueued
	default:
		err := handleHTTPError(resp)
		c.log.WithError(err).WithField("user_id", userID).Warn("queue position lookup failed")
		return 0, err
	}
}

// IsNotQueued reports whether err means the user has no queue entry.
func IsNotQueued(err error) bool {
	return errors.Is(err, ErrNotQueued)
}

// BotStatus implements GET /bot/status, keeping only the queue fields.
func (c *Client) BotStatus(ctx context.Context) (QueueInfo, error) {
	resp, err := c.get(ctx, c.paths.BotStatus)
	if err != nil {
		return QueueInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueueInfo{}, handleHTTPError(resp)
	}
	var info QueueInfo
	if err := decodeJSON(resp.Body, &info); err != nil {
		return QueueInfo{}, fmt.Errorf("decode bot status: %w", err)
	}
	return info, nil
}
