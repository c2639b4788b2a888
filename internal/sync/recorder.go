package sync

import (
	"context"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/cache"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/registry"
	"go.uber.org/zap"
)

// SessionArchiver persists registry state and chat snapshots.
type SessionArchiver interface {
	UpsertSession(ctx context.Context, s model.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	SaveChat(ctx context.Context, chat model.Chat) error
}

// SessionSource resolves a session id to its current full record.
type SessionSource interface {
	Get(sessionID string) (model.Session, bool)
}

// Recorder keeps the archive's session and chat tables in step with what the
// daemon observes: registry events update the sessions table, and every full
// chat list load snapshots the chats table. The engine covers the message
// side; together they make the archive a complete mirror.
type Recorder struct {
	source  SessionSource
	chats   *cache.ChatList
	archive SessionArchiver
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRecorder wires a recorder over the given archive.
func NewRecorder(source SessionSource, chats *cache.ChatList, archive SessionArchiver,
	b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{
		source:  source,
		chats:   chats,
		archive: archive,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to registry and chat-list events and persists them until
// Stop.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	sessions, unsubSessions := r.bus.Subscribe("session.", 64)
	chatLists, unsubChats := r.bus.Subscribe("chat.list_loaded", 16)

	go func() {
		defer close(r.done)
		defer unsubSessions()
		defer unsubChats()
		for {
			select {
			case evt := <-sessions:
				r.handleSession(ctx, evt)
			case evt := <-chatLists:
				r.handleChatList(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts persistence and waits for the loop to exit.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Recorder) handleSession(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "session.discovered":
		s, ok := evt.Payload.(model.Session)
		if !ok {
			return
		}
		if err := r.archive.UpsertSession(ctx, s); err != nil {
			r.logger.Warn("archive session failed", zap.String("session_id", s.SessionID), zap.Error(err))
		}

	case "session.status_changed":
		change, ok := evt.Payload.(registry.StatusChange)
		if !ok {
			return
		}
		// The change payload carries only the transition; persist the full
		// current record. Gone from the registry means removal is in flight.
		s, ok := r.source.Get(change.SessionID)
		if !ok {
			return
		}
		if err := r.archive.UpsertSession(ctx, s); err != nil {
			r.logger.Warn("archive session failed", zap.String("session_id", s.SessionID), zap.Error(err))
		}

	case "session.removed":
		s, ok := evt.Payload.(model.Session)
		if !ok {
			return
		}
		if err := r.archive.DeleteSession(ctx, s.SessionID); err != nil {
			r.logger.Warn("archive session removal failed", zap.String("session_id", s.SessionID), zap.Error(err))
		}
	}
}

func (r *Recorder) handleChatList(ctx context.Context, evt bus.Event) {
	sessionID, ok := evt.Payload.(string)
	if !ok {
		return
	}
	// Snapshot only while the cache is still bound to the loaded session;
	// a switch racing the event would archive chats under the wrong id.
	if r.chats.SessionID() != sessionID {
		return
	}
	for _, chat := range r.chats.Snapshot() {
		if err := r.archive.SaveChat(ctx, chat); err != nil {
			r.logger.Warn("archive chat failed",
				zap.String("session_id", sessionID), zap.String("chat_id", chat.ChatID), zap.Error(err))
		}
	}
}
