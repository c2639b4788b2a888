package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/cache"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/push"
	"go.uber.org/zap"
)

// Backend is the slice of the WhatsApp microservice the coordinator reads.
type Backend interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	ListChats(ctx context.Context, sessionID string) ([]model.Chat, error)
	ListMessages(ctx context.Context, sessionID, chatID string, includeDeleted bool) ([]model.Message, error)
}

// ProjectAPI resolves the linked context a session's refId points at. A refId
// names either a project directly or a group that maps onto one.
type ProjectAPI interface {
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	GetGroup(ctx context.Context, groupID string) (*model.Project, error)
}

// AlertPrefetcher warms the alert state when a chat is selected.
type AlertPrefetcher interface {
	Prefetch(ctx context.Context, sessionID, chatID string) error
}

// Coordinator drives session and chat selection. It swaps room subscriptions
// through the RoomSet, triggers the REST loads and hands results to the
// caches, which discard anything that no longer matches the current
// selection. Generation counters guard the coordinator's own bookkeeping
// against loads that finish after the user has moved on.
type Coordinator struct {
	backend  Backend
	projects ProjectAPI
	alerts   AlertPrefetcher
	rooms    *RoomSet
	chats    *cache.ChatList
	messages *cache.MessageLog
	bus      *bus.Bus
	logger   *zap.Logger

	mu          sync.Mutex
	generation  uint64
	sessionID   string
	project     *model.Project
	chatID      string
	roomToken   string
	pendingChat string
}

// New creates a coordinator with no active view.
func New(backend Backend, projects ProjectAPI, alerts AlertPrefetcher, rooms *RoomSet,
	chats *cache.ChatList, messages *cache.MessageLog, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		backend:  backend,
		projects: projects,
		alerts:   alerts,
		rooms:    rooms,
		chats:    chats,
		messages: messages,
		bus:      b,
		logger:   logger,
	}
}

// ActivateSession makes sessionID the monitored session: the session record
// is fetched (a failure here aborts the switch), its linked project is
// resolved best-effort, the room subscription moves over and the chat list
// loads. Activating the already active session is a no-op.
func (c *Coordinator) ActivateSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if sessionID == c.sessionID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	session, err := c.backend.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("activate session %s: %w", sessionID, err)
	}

	var project *model.Project
	if session.RefID != "" {
		project = c.resolveRef(ctx, sessionID, session.RefID)
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	prevRoom, prevToken := "", ""
	if c.sessionID != "" {
		prevRoom, prevToken = push.RoomForSession(c.sessionID), c.roomToken
	}
	// Join the new room before leaving the old one so there is no window
	// with zero subscriptions during the switch.
	c.roomToken = c.rooms.Acquire(push.RoomForSession(sessionID))
	c.sessionID = sessionID
	c.project = project
	c.chatID = ""
	c.mu.Unlock()

	if prevToken != "" {
		c.rooms.Release(prevRoom, prevToken)
	}
	c.messages.Clear()
	c.chats.Clear()
	c.publish("session.activated", *session)

	return c.loadChats(ctx, sessionID, gen)
}

// resolveRef fetches the linked context for a refId, trying it as a project
// id first and as a group id second. The context is decoration, not
// substance: both failing leaves the view without a project and nothing else.
func (c *Coordinator) resolveRef(ctx context.Context, sessionID, refID string) *model.Project {
	project, err := c.projects.GetProject(ctx, refID)
	if err == nil {
		return project
	}
	project, groupErr := c.projects.GetGroup(ctx, refID)
	if groupErr == nil {
		return project
	}
	c.logger.Warn("linked context fetch failed",
		zap.String("session_id", sessionID), zap.String("ref_id", refID),
		zap.NamedError("project_err", err), zap.NamedError("group_err", groupErr))
	return nil
}

func (c *Coordinator) loadChats(ctx context.Context, sessionID string, gen uint64) error {
	chats, err := c.backend.ListChats(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load chats for %s: %w", sessionID, err)
	}

	c.mu.Lock()
	if gen != c.generation {
		// The user switched sessions while the fetch was in flight.
		c.mu.Unlock()
		return nil
	}
	pending := c.pendingChat
	c.pendingChat = ""
	c.mu.Unlock()

	c.chats.Load(sessionID, chats)
	c.publish("chat.list_loaded", sessionID)

	// A restored deep link may name a chat before the list existed. Resolve
	// it now that we know whether the chat is real.
	if pending != "" {
		if _, ok := c.chats.Get(pending); ok {
			return c.OpenChat(ctx, pending)
		}
		c.logger.Warn("restored chat not in session", zap.String("chat_id", pending))
	}
	return nil
}

// OpenChat selects a chat of the active session: the message log rebinds
// (clearing the previous chat immediately), alerts prefetch in the
// background and the message history loads. The log itself rejects results
// that arrive after another chat was opened.
func (c *Coordinator) OpenChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("open chat %s: no active session", chatID)
	}
	if _, ok := c.chats.Get(chatID); !ok {
		return fmt.Errorf("open chat %s: not in session %s", chatID, sessionID)
	}

	c.mu.Lock()
	c.chatID = chatID
	c.mu.Unlock()
	c.messages.Bind(chatID)

	if c.alerts != nil {
		go func() {
			if err := c.alerts.Prefetch(context.WithoutCancel(ctx), sessionID, chatID); err != nil {
				c.logger.Warn("alert prefetch failed", zap.String("chat_id", chatID), zap.Error(err))
			}
		}()
	}

	msgs, err := c.backend.ListMessages(ctx, sessionID, chatID, true)
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", chatID, err)
	}
	if c.messages.Load(chatID, msgs) {
		c.publish("chat.opened", chatID)
	}
	return nil
}

// CloseChat deselects the open chat and drops its message log.
func (c *Coordinator) CloseChat() {
	c.mu.Lock()
	c.chatID = ""
	c.mu.Unlock()
	c.messages.Clear()
}

// Deactivate tears the whole view down: the session room is released, the
// caches clear and no session is active afterwards. Used when the active
// session is destroyed server-side.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	room, token := "", ""
	if c.sessionID != "" {
		room, token = push.RoomForSession(c.sessionID), c.roomToken
	}
	c.generation++
	c.sessionID = ""
	c.project = nil
	c.chatID = ""
	c.roomToken = ""
	c.pendingChat = ""
	c.mu.Unlock()

	if token != "" {
		c.rooms.Release(room, token)
	}
	c.messages.Clear()
	c.chats.Clear()
	c.publish("session.deactivated", nil)
}

// RestoreView rebuilds the selection from a persisted query string of the
// form "session=<id>&chat=<id>". The chat part stays pending until the chat
// list has loaded and is dropped if the chat no longer exists. Restoring the
// already active session reconciles the chat against the loaded list instead
// of re-activating.
func (c *Coordinator) RestoreView(ctx context.Context, rawQuery string) error {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return fmt.Errorf("restore view: %w", err)
	}
	sessionID := q.Get("session")
	if sessionID == "" {
		return nil
	}
	chatID := q.Get("chat")

	c.mu.Lock()
	if sessionID == c.sessionID {
		current := c.chatID
		c.mu.Unlock()
		if chatID == "" || chatID == current {
			return nil
		}
		if _, ok := c.chats.Get(chatID); ok {
			return c.OpenChat(ctx, chatID)
		}
		c.logger.Warn("restored chat not in session", zap.String("chat_id", chatID))
		return nil
	}
	c.pendingChat = chatID
	c.mu.Unlock()

	if err := c.ActivateSession(ctx, sessionID); err != nil {
		// The chat list never loaded; nothing may consume the chat later.
		c.mu.Lock()
		c.pendingChat = ""
		c.mu.Unlock()
		return err
	}
	return nil
}

// ViewQuery returns the query string RestoreView can later rebuild the
// current selection from. Empty when no session is active.
func (c *Coordinator) ViewQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return ""
	}
	q := url.Values{"session": {c.sessionID}}
	if c.chatID != "" {
		q.Set("chat", c.chatID)
	}
	return q.Encode()
}

// ActiveSession returns the id of the monitored session, empty if none.
func (c *Coordinator) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ActiveChat returns the id of the open chat, empty if none.
func (c *Coordinator) ActiveChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Project returns the linked project of the active session, nil when the
// session has none or the fetch failed.
func (c *Coordinator) Project() *model.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

func (c *Coordinator) publish(kind string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
