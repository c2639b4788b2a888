package sync

import (
	"context"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/cache"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/push"
	"go.uber.org/zap"
)

// ChatFetcher fetches single chat records, used to backfill placeholders.
type ChatFetcher interface {
	GetChat(ctx context.Context, sessionID, chatID string) (*model.Chat, error)
}

// StatusReflector mirrors session statuses observed on the push channel.
type StatusReflector interface {
	Reflect(sessionID string, status model.SessionStatus, at time.Time)
}

// Archiver persists the monitored traffic. All methods must be idempotent;
// reconnect replays may deliver the same event twice.
type Archiver interface {
	SaveChat(ctx context.Context, chat model.Chat) error
	SaveMessage(ctx context.Context, sessionID string, msg model.Message) error
	AppendEdition(ctx context.Context, sessionID, chatID, messageID, previousBody, newBody string) error
	MarkMessageDeleted(ctx context.Context, sessionID, chatID, messageID string, deletedAt int64) error
	MarkChatDeleted(ctx context.Context, sessionID, chatID string) error
}

// Engine consumes push.* bus events and applies them to the caches, the
// session registry and the archive. The caches enforce their own relevance
// rules, so the engine feeds them everything and lets them discard.
type Engine struct {
	chats    *cache.ChatList
	messages *cache.MessageLog
	registry StatusReflector
	fetcher  ChatFetcher
	archive  Archiver // optional
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine wires an engine. archive may be nil to run without persistence.
func NewEngine(chats *cache.ChatList, messages *cache.MessageLog, registry StatusReflector,
	fetcher ChatFetcher, archive Archiver, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		chats:    chats,
		messages: messages,
		registry: registry,
		fetcher:  fetcher,
		archive:  archive,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to push events and processes them until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	events, unsubscribe := e.bus.Subscribe("push.", 256)

	go func() {
		defer close(e.done)
		defer unsubscribe()
		for {
			select {
			case evt := <-events:
				e.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts event processing and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handle(ctx context.Context, evt bus.Event) {
	switch p := evt.Payload.(type) {
	case push.NewMessagePayload:
		e.handleNewMessage(ctx, p)
	case push.MessageEditedPayload:
		e.handleEdited(ctx, p)
	case push.MessageDeletedPayload:
		e.handleDeleted(ctx, p)
	case push.ChatRemovedPayload:
		e.handleChatRemoved(ctx, p)
	case push.DisconnectedPayload:
		e.registry.Reflect(p.SessionID, model.StatusDisconnected, evt.Timestamp)
	case push.ReadyPayload:
		e.registry.Reflect(p.SessionID, model.StatusReady, evt.Timestamp)
	case push.QRPayload:
		e.registry.Reflect(p.SessionID, model.StatusQRGenerated, evt.Timestamp)
	case push.ErrorPayload:
		e.logger.Warn("server error on push channel",
			zap.String("session_id", p.SessionID), zap.String("message", p.Message))
	}
}

func (e *Engine) handleNewMessage(ctx context.Context, p push.NewMessagePayload) {
	placeholder, applied := e.chats.ApplyIncoming(p.SessionID, p.Message.ChatID, p.Message)
	e.messages.ApplyIncoming(p.Message)

	if e.archive != nil {
		if err := e.archive.SaveMessage(ctx, p.SessionID, p.Message); err != nil {
			e.logger.Warn("archive message failed",
				zap.String("message_id", p.Message.MessageID), zap.Error(err))
		}
	}

	if applied {
		e.publish("chat.updated", p.Message.ChatID)
		e.publish("message.applied", p)
	}
	if placeholder {
		// The chat list now shows a synthesized stub. Fetch the real record
		// off the event loop and reconcile it in place.
		go e.backfill(context.WithoutCancel(ctx), p.SessionID, p.Message.ChatID)
	}
}

func (e *Engine) handleEdited(ctx context.Context, p push.MessageEditedPayload) {
	e.messages.MarkEdited(p.MessageID, p.PreviousBody)
	e.messages.SetBody(p.MessageID, p.NewBody)

	if e.archive != nil {
		if err := e.archive.AppendEdition(ctx, p.SessionID, p.ChatID, p.MessageID, p.PreviousBody, p.NewBody); err != nil {
			e.logger.Warn("archive edition failed", zap.String("message_id", p.MessageID), zap.Error(err))
		}
	}
	e.publish("message.edited", p)
}

func (e *Engine) handleDeleted(ctx context.Context, p push.MessageDeletedPayload) {
	e.messages.MarkDeleted(p.MessageID, p.DeletedAt)

	if e.archive != nil {
		if err := e.archive.MarkMessageDeleted(ctx, p.SessionID, p.ChatID, p.MessageID, p.DeletedAt); err != nil {
			e.logger.Warn("archive deletion failed", zap.String("message_id", p.MessageID), zap.Error(err))
		}
	}
	e.publish("message.deleted", p)
}

func (e *Engine) handleChatRemoved(ctx context.Context, p push.ChatRemovedPayload) {
	e.chats.MarkDeleted(p.ChatID)

	if e.archive != nil {
		if err := e.archive.MarkChatDeleted(ctx, p.SessionID, p.ChatID); err != nil {
			e.logger.Warn("archive chat removal failed", zap.String("chat_id", p.ChatID), zap.Error(err))
		}
	}
	e.publish("chat.removed", p)
}

// backfill replaces a placeholder chat with the real record. On failure the
// placeholder stays; it is complete enough to render and the next full list
// load supersedes it anyway.
func (e *Engine) backfill(ctx context.Context, sessionID, chatID string) {
	chat, err := e.fetcher.GetChat(ctx, sessionID, chatID)
	if err != nil {
		e.logger.Warn("placeholder backfill failed",
			zap.String("session_id", sessionID), zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	if e.chats.Reconcile(*chat) {
		e.publish("chat.updated", chatID)
	}
	if e.archive != nil {
		if err := e.archive.SaveChat(ctx, *chat); err != nil {
			e.logger.Warn("archive chat failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
