// Package alerts mirrors the server-generated alert feed. Alerts are strictly
// read-only here except for the read flag, which flips locally only after the
// server acknowledged the mark-read call.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/model"
	"go.uber.org/zap"
)

// API is the alert surface of the conversation service.
type API interface {
	ListAlerts(ctx context.Context, sessionID, chatID string) ([]model.Alert, error)
	UnreadCounts(ctx context.Context, sessionID string) (map[string]int, error)
	MarkAlertRead(ctx context.Context, alertID string) error
}

// Archive persists observed alerts. Failures are logged, never surfaced: the
// archive trails the server, it does not gate it.
type Archive interface {
	UpsertAlert(ctx context.Context, a model.Alert) error
	MarkAlertRead(ctx context.Context, alertID string) error
}

// Notifier caches the alerts and unread counts for the current selection.
type Notifier struct {
	api     API
	archive Archive // optional
	bus     *bus.Bus
	logger  *zap.Logger

	mu        sync.RWMutex
	sessionID string
	alerts    []model.Alert
	unread    map[string]int
}

// New creates an empty notifier. archive may be nil to run without
// persistence.
func New(api API, archive Archive, b *bus.Bus, logger *zap.Logger) *Notifier {
	return &Notifier{api: api, archive: archive, bus: b, logger: logger}
}

// Prefetch loads the alerts for a chat plus the session's unread counts.
// Called when a chat is selected so the view has alert context ready.
func (n *Notifier) Prefetch(ctx context.Context, sessionID, chatID string) error {
	alerts, err := n.api.ListAlerts(ctx, sessionID, chatID)
	if err != nil {
		return err
	}
	unread, err := n.api.UnreadCounts(ctx, sessionID)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.sessionID = sessionID
	n.alerts = alerts
	n.unread = unread
	n.mu.Unlock()

	if n.archive != nil {
		for _, a := range alerts {
			if err := n.archive.UpsertAlert(ctx, a); err != nil {
				n.logger.Warn("archive alert failed", zap.String("alert_id", a.ID), zap.Error(err))
			}
		}
	}

	n.publish("alert.loaded", sessionID)
	return nil
}

// Alerts returns the cached alerts of the last prefetch.
func (n *Notifier) Alerts() []model.Alert {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]model.Alert, len(n.alerts))
	copy(out, n.alerts)
	return out
}

// Unread returns the cached unread count for a chat.
func (n *Notifier) Unread(chatID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.unread[chatID]
}

// MarkRead marks one alert read server-side, then reconciles the local
// mirror. On error nothing changes locally.
func (n *Notifier) MarkRead(ctx context.Context, alertID string) error {
	if err := n.api.MarkAlertRead(ctx, alertID); err != nil {
		return err
	}

	n.mu.Lock()
	for i := range n.alerts {
		if n.alerts[i].ID == alertID && !n.alerts[i].IsRead {
			n.alerts[i].IsRead = true
			if n.unread[n.alerts[i].ChatID] > 0 {
				n.unread[n.alerts[i].ChatID]--
			}
			break
		}
	}
	n.mu.Unlock()

	if n.archive != nil {
		if err := n.archive.MarkAlertRead(ctx, alertID); err != nil {
			n.logger.Warn("archive alert read failed", zap.String("alert_id", alertID), zap.Error(err))
		}
	}

	n.publish("alert.read", alertID)
	return nil
}

// Clear drops the cached alert state, used when the view deactivates.
func (n *Notifier) Clear() {
	n.mu.Lock()
	n.sessionID = ""
	n.alerts = nil
	n.unread = nil
	n.mu.Unlock()
}

func (n *Notifier) publish(kind string, payload any) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
