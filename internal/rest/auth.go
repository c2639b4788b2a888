package rest

import (
	"context"
	"net/http"
)

// LoginResult is the main API login response.
type LoginResult struct {
	Token string `json:"token"`
	User  string `json:"user"`
}

// Login exchanges credentials for a bearer token on the main API and
// installs it on the client for subsequent requests.
func (c *Client) Login(ctx context.Context, user, password string) (*LoginResult, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/auth/login", map[string]string{
		"user":     user,
		"password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[LoginResult](data)
	if err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}
