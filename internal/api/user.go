package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrIncompleteLogin is returned when a successful login lacks a token or user.
var ErrIncompleteLogin = errors.New("login response missing token or user")

// Login authenticates with name and password. On success the returned token
// is installed on the client for later calls.
func (c *Client) Login(ctx context.Context, name, password string) (*LoginResult, error) {
	var result LoginResult
	if err := c.post(ctx, "/api/login", LoginRequest{Name: name, Password: password}, &result); err != nil {
		return nil, fmt.Errorf("login %s: %w", name, err)
	}
	if result.Token == "" || result.User.ID == 0 {
		return nil, fmt.Errorf("login %s: %w", name, ErrIncompleteLogin)
	}

	c.SetToken(result.Token)
	c.logger.Debug("logged in", "user_id", result.User.ID)
	return &result, nil
}

// UserInfo fetches the profile of user id.
func (c *Client) UserInfo(ctx context.Context, id int64) (*User, error) {
	query := url.Values{}
	query.Set("id", strconv.FormatInt(id, 10))

	var user User
	if err := c.get(ctx, "/api/user/info", query, &user); err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &user, nil
}
