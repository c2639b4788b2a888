// Package registry tracks the remote sessions known to the WhatsApp
// microservice. Statuses are owned server-side: the registry fetches them via
// REST polling and reflects pushed status events, it never invents a
// transition of its own. It is independent of the push transport.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/rest"
	"go.uber.org/zap"
)

// SessionAPI is the slice of the WhatsApp microservice the registry needs.
type SessionAPI interface {
	ListSessions(ctx context.Context) ([]model.Session, error)
}

// StatusChange is the payload for session.status_changed events.
type StatusChange struct {
	SessionID string
	From      model.SessionStatus
	To        model.SessionStatus
}

// Registry caches the known sessions and diffs refreshes into bus events.
type Registry struct {
	api    SessionAPI
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]model.Session
}

// New creates an empty registry.
func New(api SessionAPI, b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		api:      api,
		bus:      b,
		logger:   logger,
		sessions: make(map[string]model.Session),
	}
}

// Refresh fetches the session list and reconciles the local mirror.
// Discovered, changed and removed sessions are published on the bus.
func (r *Registry) Refresh(ctx context.Context) error {
	fetched, err := r.api.ListSessions(ctx)
	if err != nil {
		if errors.Is(err, rest.ErrUnauthorized) {
			// Credential failure overrides everything else: consumers clear
			// the stored token and force a re-login.
			r.publish("auth.invalid", err)
		}
		return err
	}

	r.mu.Lock()
	seen := make(map[string]struct{}, len(fetched))
	for _, s := range fetched {
		seen[s.SessionID] = struct{}{}
		prev, known := r.sessions[s.SessionID]
		r.sessions[s.SessionID] = s
		switch {
		case !known:
			r.publish("session.discovered", s)
		case prev.Status != s.Status:
			r.publish("session.status_changed", StatusChange{
				SessionID: s.SessionID,
				From:      prev.Status,
				To:        s.Status,
			})
		}
	}
	// Sessions missing from the snapshot were destroyed server-side.
	for id, s := range r.sessions {
		if _, ok := seen[id]; !ok {
			delete(r.sessions, id)
			r.publish("session.removed", s)
		}
	}
	r.mu.Unlock()
	return nil
}

// Reflect applies a status observed on the push channel (ready, disconnected,
// qr) without waiting for the next poll. Unknown sessions are ignored; the
// next Refresh will discover them with full data.
func (r *Registry) Reflect(sessionID string, status model.SessionStatus, at time.Time) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	prev := s.Status
	s.Status = status
	s.LastSeen = at.UnixMilli()
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if prev != status {
		r.publish("session.status_changed", StatusChange{SessionID: sessionID, From: prev, To: status})
	}
}

// Get returns a session by id.
func (r *Registry) Get(sessionID string) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// List returns all known sessions sorted by id.
func (r *Registry) List() []model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Start runs the poll loop until Stop or context cancellation.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("session refresh failed", zap.Error(err))
		}
		for {
			select {
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.logger.Warn("session refresh failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the poll loop.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Registry) publish(kind string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
