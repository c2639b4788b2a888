package cache

import (
	"sort"
	"sync"

	"github.com/crisari666/wamon/internal/model"
)

// MessageLog is the ordered, deduplicated message list for exactly one open
// chat. The list is always sorted ascending by timestamp; inserts are
// position-searched, duplicates by messageId are ignored, deletions are
// soft flags and edits append to the edition history. Events and late fetch
// results for any other chat are discarded.
type MessageLog struct {
	mu     sync.RWMutex
	chatID string
	msgs   []model.Message
	seen   map[string]struct{}
}

// NewMessageLog creates an empty, unbound message log.
func NewMessageLog() *MessageLog {
	return &MessageLog{seen: make(map[string]struct{})}
}

// Bind clears the log and binds it to a new chat. Binding happens before the
// new chat's messages load so no stale cross-chat state is ever observable.
func (l *MessageLog) Bind(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatID = chatID
	l.msgs = nil
	l.seen = make(map[string]struct{})
}

// ChatID returns the chat this log is bound to.
func (l *MessageLog) ChatID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chatID
}

// Load replaces the log with a full fetch result. The server returns messages
// sorted ascending by timestamp and the client trusts that order. Returns
// false (discarding the data) when the log has been rebound to a different
// chat since the fetch started.
func (l *MessageLog) Load(chatID string, msgs []model.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if chatID != l.chatID {
		return false
	}
	l.msgs = make([]model.Message, len(msgs))
	copy(l.msgs, msgs)
	l.seen = make(map[string]struct{}, len(msgs))
	for i := range l.msgs {
		l.seen[l.msgs[i].MessageID] = struct{}{}
	}
	return true
}

// Len returns the number of messages, deleted ones included.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Snapshot returns a copy of the current list in order.
func (l *MessageLog) Snapshot() []model.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Get returns a message by id.
func (l *MessageLog) Get(messageID string) (model.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.find(messageID); i >= 0 {
		return l.msgs[i], true
	}
	return model.Message{}, false
}

// ApplyIncoming inserts a pushed message preserving ascending timestamp
// order. A messageId already present is a no-op, which makes overlapping
// fetch + push deliveries and duplicate pushes safe.
func (l *MessageLog) ApplyIncoming(msg model.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if msg.ChatID != l.chatID || l.chatID == "" {
		return false
	}
	if _, dup := l.seen[msg.MessageID]; dup {
		return false
	}

	// Sorted insert: first position with a later timestamp. Equal timestamps
	// keep arrival order.
	i := sort.Search(len(l.msgs), func(i int) bool {
		return l.msgs[i].Timestamp > msg.Timestamp
	})
	l.msgs = append(l.msgs, model.Message{})
	copy(l.msgs[i+1:], l.msgs[i:])
	l.msgs[i] = msg
	l.seen[msg.MessageID] = struct{}{}
	return true
}

// MarkEdited appends previousBody to the message's edition history, keeping
// edit order oldest-to-newest. The current body is updated separately via
// SetBody.
func (l *MessageLog) MarkEdited(messageID, previousBody string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.find(messageID); i >= 0 {
		l.msgs[i].Edition = append(l.msgs[i].Edition, previousBody)
		return true
	}
	return false
}

// SetBody replaces the current body of a message.
func (l *MessageLog) SetBody(messageID, body string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.find(messageID); i >= 0 {
		l.msgs[i].Body = body
		return true
	}
	return false
}

// MarkDeleted soft-deletes a message: the entry stays in the list with
// IsDeleted set so the deletion history remains visible in place.
func (l *MessageLog) MarkDeleted(messageID string, deletedAt int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.find(messageID); i >= 0 {
		l.msgs[i].IsDeleted = true
		l.msgs[i].DeletedAt = deletedAt
		return true
	}
	return false
}

// Clear unbinds the log and drops all entries.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatID = ""
	l.msgs = nil
	l.seen = make(map[string]struct{})
}

func (l *MessageLog) find(messageID string) int {
	for i := range l.msgs {
		if l.msgs[i].MessageID == messageID {
			return i
		}
	}
	return -1
}
