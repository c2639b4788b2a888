// Package model holds the domain types mirrored from the monitoring backends.
// The client never invents state for these: sessions, chats, messages and
// alerts are owned server-side and only reflected (and cached) here.
package model

// SessionStatus is the lifecycle status of a remote WhatsApp Web session.
// Statuses are assigned server-side; the client only reflects them.
type SessionStatus string

const (
	StatusInitializing  SessionStatus = "initializing"
	StatusQRGenerated   SessionStatus = "qr_generated"
	StatusAuthenticated SessionStatus = "authenticated"
	StatusReady         SessionStatus = "ready"
	StatusDisconnected  SessionStatus = "disconnected"
	StatusAuthFailure   SessionStatus = "auth_failure"
	StatusError         SessionStatus = "error"
)

// Terminal reports whether the status ends the session lifecycle.
// A destroyed session simply disappears from the registry.
func (s SessionStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Session is one logical connection between the backend and a remote
// WhatsApp Web account.
type Session struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	LastSeen  int64         `json:"lastSeen"` // unix millis
	RefID     string        `json:"refId,omitempty"`
}

// Chat is a conversation thread within a session, unique by (sessionId, chatId).
type Chat struct {
	ChatID               string `json:"chatId"`
	SessionID            string `json:"sessionId"`
	Name                 string `json:"name"`
	IsGroup              bool   `json:"isGroup"`
	LastMessage          string `json:"lastMessage"`
	LastMessageTimestamp int64  `json:"lastMessageTimestamp"` // unix millis
	LastMessageFromMe    bool   `json:"lastMessageFromMe"`
	Archived             bool   `json:"archived"`
	Deleted              bool   `json:"deleted"`
	Analysis             string `json:"analysis,omitempty"`

	// Placeholder marks a chat synthesized from a push event that referenced
	// a chatId missing from the loaded list. It is cleared by Reconcile once
	// the real record has been fetched.
	Placeholder bool `json:"-"`
}

// Message is a single message within a chat, unique by messageId.
type Message struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"` // unix millis
	IsDeleted bool   `json:"isDeleted"`
	DeletedAt int64  `json:"deletedAt,omitempty"`
	// Edition holds prior bodies in edit order, oldest first.
	Edition   []string `json:"edition,omitempty"`
	MediaType string   `json:"mediaType,omitempty"`
}

// AlertType classifies a read-only notification.
type AlertType string

const (
	AlertDisconnected   AlertType = "disconnected"
	AlertMessageDeleted AlertType = "message_deleted"
	AlertMessageEdited  AlertType = "message_edited"
	AlertChatRemoved    AlertType = "chat_removed"
)

// Alert is a server-generated notification layered over the session data.
// The client only flips IsRead locally after a successful mark-read call.
type Alert struct {
	ID        string    `json:"_id"`
	SessionID string    `json:"sessionId"`
	Type      AlertType `json:"type"`
	ChatID    string    `json:"chatId,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt int64     `json:"createdAt"` // unix millis
}

// Project is the linked project/group context a session may reference.
// Fetched read-only by the view coordinator; failure to fetch it is non-fatal.
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GroupID string `json:"groupId,omitempty"`
}
