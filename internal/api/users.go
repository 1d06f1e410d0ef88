package api

import (
	"context"
	"fmt"
	"net/http"
)

// OnlineUser is one entry of the online users list.
type OnlineUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// OnlineUsers implements GET /users/online.
func (c *Client) OnlineUsers(ctx context.Context) ([]OnlineUser, error) {
	resp, err := c.get(ctx, c.paths.OnlineUsers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleHTTPError(resp)
	}
	var users []OnlineUser
	if err := decodeJSON(resp.Body, &users); err != nil {
		return nil, fmt.Errorf("decode online users: %w", err)
	}
	return users, nil
}
