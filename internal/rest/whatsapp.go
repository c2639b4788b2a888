package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/crisari666/wamon/internal/model"
)

// ListSessions returns all sessions known to the WhatsApp microservice.
func (c *Client) ListSessions(ctx context.Context) ([]model.Session, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/sessions", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]model.Session](data)
}

// GetSession returns a single session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return nil, err
	}
	s, err := decodeJSON[model.Session](data)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// StartSession asks the backend to create (or resume) a session sync.
// The server begins pushing room events immediately, so the caller must have
// joined session:<id> before this call returns.
func (c *Client) StartSession(ctx context.Context, sessionID, refID string) (*model.Session, error) {
	body := map[string]string{"sessionId": sessionID}
	if refID != "" {
		body["refId"] = refID
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/sync", body, nil)
	if err != nil {
		return nil, err
	}
	s, err := decodeJSON[model.Session](data)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DestroySession deletes a session server-side (terminal, explicit).
func (c *Client) DestroySession(ctx context.Context, sessionID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
	return err
}

// ListChats returns the full chat snapshot for a session, most recent first.
func (c *Client) ListChats(ctx context.Context, sessionID string) ([]model.Chat, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]model.Chat](data)
}

// GetChat returns one chat record, used to backfill synthesized placeholders.
func (c *Client) GetChat(ctx context.Context, sessionID, chatID string) (*model.Chat, error) {
	data, err := c.doRequest(ctx, http.MethodGet,
		"/sessions/"+url.PathEscape(sessionID)+"/chats/"+url.PathEscape(chatID), nil, nil)
	if err != nil {
		return nil, err
	}
	chat, err := decodeJSON[model.Chat](data)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListMessages returns a chat's messages sorted ascending by timestamp by the
// server; the client trusts server ordering on load.
func (c *Client) ListMessages(ctx context.Context, sessionID, chatID string, includeDeleted bool) ([]model.Message, error) {
	data, err := c.doRequest(ctx, http.MethodGet,
		"/sessions/"+url.PathEscape(sessionID)+"/chats/"+url.PathEscape(chatID)+"/messages",
		nil, map[string]string{"includeDeleted": strconv.FormatBool(includeDeleted)})
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]model.Message](data)
}
