package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/crisari666/wamon/internal/model"
)

// ListAlerts returns alerts for a session, optionally scoped to one chat.
func (c *Client) ListAlerts(ctx context.Context, sessionID, chatID string) ([]model.Alert, error) {
	query := map[string]string{"sessionId": sessionID}
	if chatID != "" {
		query["chatId"] = chatID
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/alerts", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]model.Alert](data)
}

// UnreadCounts returns the per-chat unread alert counts for a session.
func (c *Client) UnreadCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/alerts/unread-count", nil,
		map[string]string{"sessionId": sessionID})
	if err != nil {
		return nil, err
	}
	return decodeJSON[map[string]int](data)
}

// MarkAlertRead flags one alert as read server-side. The caller reconciles
// locally by flipping IsRead after this returns without error.
func (c *Client) MarkAlertRead(ctx context.Context, alertID string) error {
	_, err := c.doRequest(ctx, http.MethodPatch, "/alerts/"+url.PathEscape(alertID)+"/read", nil, nil)
	return err
}
