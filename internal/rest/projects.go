package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/crisari666/wamon/internal/model"
)

// GetProject returns the project a session's refId points at.
func (c *Client) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, nil)
	if err != nil {
		return nil, err
	}
	p, err := decodeJSON[model.Project](data)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetGroup resolves a group to its project context.
func (c *Client) GetGroup(ctx context.Context, groupID string) (*model.Project, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID), nil, nil)
	if err != nil {
		return nil, err
	}
	p, err := decodeJSON[model.Project](data)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
