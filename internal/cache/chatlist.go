// Package cache holds the in-memory view state reconciled against push
// events: the ordered chat list for the active session and the message log
// for the open chat. Both collections are exclusively owned here; push and
// REST layers only hand payloads in. Every mutation is order-tolerant so
// events may arrive in any relative order.
package cache

import (
	"sync"

	"github.com/crisari666/wamon/internal/model"
)

// ChatList is the ordered, deduplicated list of chats for one session,
// sorted by recency of last activity. Reordering happens only on explicit
// new-message events; chats with equal recency keep the order of the last
// full load.
type ChatList struct {
	mu        sync.RWMutex
	sessionID string
	chats     []model.Chat
}

// NewChatList creates an empty, unbound chat list.
func NewChatList() *ChatList {
	return &ChatList{}
}

// Load replaces the whole list with a full snapshot for the given session,
// superseding any prior partial state.
func (l *ChatList) Load(sessionID string, chats []model.Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = sessionID
	l.chats = make([]model.Chat, len(chats))
	copy(l.chats, chats)
	for i := range l.chats {
		l.chats[i].SessionID = sessionID
	}
}

// SessionID returns the session this list is bound to.
func (l *ChatList) SessionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionID
}

// Len returns the number of chats.
func (l *ChatList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chats)
}

// Snapshot returns a copy of the current list in order.
func (l *ChatList) Snapshot() []model.Chat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Chat, len(l.chats))
	copy(out, l.chats)
	return out
}

// Get returns a chat by id.
func (l *ChatList) Get(chatID string) (model.Chat, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.find(chatID); i >= 0 {
		return l.chats[i], true
	}
	return model.Chat{}, false
}

// ApplyIncoming merges a pushed message into the list: the chat's last-message
// fields are refreshed and the chat moves to index 0. An unknown chatId
// synthesizes a minimal placeholder (name defaults to the chatId) prepended to
// the list; the returned placeholder flag tells the caller to schedule a
// targeted refetch so the record does not stay incomplete.
// Events for a different session are discarded.
func (l *ChatList) ApplyIncoming(sessionID, chatID string, msg model.Message) (placeholder, applied bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sessionID != l.sessionID || l.sessionID == "" {
		return false, false
	}

	if i := l.find(chatID); i >= 0 {
		l.chats[i].LastMessage = msg.Body
		l.chats[i].LastMessageTimestamp = msg.Timestamp
		l.chats[i].LastMessageFromMe = msg.FromMe
		l.moveToFront(i)
		return false, true
	}

	l.chats = append([]model.Chat{{
		ChatID:               chatID,
		SessionID:            sessionID,
		Name:                 chatID,
		LastMessage:          msg.Body,
		LastMessageTimestamp: msg.Timestamp,
		LastMessageFromMe:    msg.FromMe,
		Placeholder:          true,
	}}, l.chats...)
	return true, true
}

// Reconcile refreshes a placeholder (or any chat) in place with the full
// record fetched from the backend, preserving its current position.
func (l *ChatList) Reconcile(chat model.Chat) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if chat.SessionID != "" && chat.SessionID != l.sessionID {
		return false
	}
	i := l.find(chat.ChatID)
	if i < 0 {
		return false
	}
	// Keep the recency fields the cache already reconciled; the fetched
	// record may predate the push event that created the placeholder.
	existing := l.chats[i]
	chat.SessionID = l.sessionID
	chat.Placeholder = false
	if existing.LastMessageTimestamp > chat.LastMessageTimestamp {
		chat.LastMessage = existing.LastMessage
		chat.LastMessageTimestamp = existing.LastMessageTimestamp
		chat.LastMessageFromMe = existing.LastMessageFromMe
	}
	l.chats[i] = chat
	return true
}

// MarkDeleted flags a chat as deleted in place. The entry stays in the list.
func (l *ChatList) MarkDeleted(chatID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.find(chatID); i >= 0 {
		l.chats[i].Deleted = true
		return true
	}
	return false
}

// Clear unbinds the list and drops all entries.
func (l *ChatList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = ""
	l.chats = nil
}

// find returns the index of chatID or -1. Lists are small enough that a
// linear scan beats maintaining an index map across reorders.
func (l *ChatList) find(chatID string) int {
	for i := range l.chats {
		if l.chats[i].ChatID == chatID {
			return i
		}
	}
	return -1
}

// moveToFront is the indexed move operation: shift [0,i) right by one and
// place element i at index 0.
func (l *ChatList) moveToFront(i int) {
	if i == 0 {
		return
	}
	c := l.chats[i]
	copy(l.chats[1:i+1], l.chats[0:i])
	l.chats[0] = c
}
