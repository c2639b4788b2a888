package push

import (
	"encoding/json"
	"fmt"

	"github.com/crisari666/wamon/internal/model"
)

// Inbound event names pushed by the server into session rooms.
const (
	EventQR             = "qr"
	EventReady          = "ready"
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventChatRemoved    = "chat_removed"
	EventDisconnected   = "disconnected"
	EventError          = "error"
)

// Control event names emitted by the client.
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// Envelope is the wire format for all push channel traffic.
// The transport never looks past it; Data stays opaque until a consumer
// parses it with one of the typed helpers below.
type Envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomForSession returns the room name scoping events to one session.
func RoomForSession(sessionID string) string {
	return "session:" + sessionID
}

// QRPayload carries the QR code for linking a session.
type QRPayload struct {
	SessionID string `json:"sessionId"`
	QR        string `json:"qr"`
}

// ReadyPayload signals a session became usable.
type ReadyPayload struct {
	SessionID string `json:"sessionId"`
}

// NewMessagePayload carries an incoming message with its session scope.
type NewMessagePayload struct {
	SessionID string        `json:"sessionId"`
	Message   model.Message `json:"message"`
}

// MessageEditedPayload carries a message edit. PreviousBody is the body the
// message had before this edit; NewBody is the current one.
type MessageEditedPayload struct {
	SessionID    string `json:"sessionId"`
	ChatID       string `json:"chatId"`
	MessageID    string `json:"messageId"`
	NewBody      string `json:"newBody"`
	PreviousBody string `json:"previousBody"`
}

// MessageDeletedPayload carries a soft deletion.
type MessageDeletedPayload struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	DeletedAt int64  `json:"deletedAt"`
}

// ChatRemovedPayload signals a chat was removed on the remote account.
type ChatRemovedPayload struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
}

// DisconnectedPayload signals the remote session dropped.
type DisconnectedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorPayload is a session-scoped server error.
type ErrorPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// ParseData unmarshals an envelope payload into the given type.
func ParseData[T any](env Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("parse %s payload: %w", env.Event, err)
	}
	return out, nil
}

type roomPayload struct {
	Room string `json:"room"`
}

// joinEnvelope builds the control envelope for joining a room.
func joinEnvelope(room string) Envelope {
	data, _ := json.Marshal(roomPayload{Room: room})
	return Envelope{Event: EventJoin, Data: data}
}

// leaveEnvelope builds the control envelope for leaving a room.
func leaveEnvelope(room string) Envelope {
	data, _ := json.Marshal(roomPayload{Room: room})
	return Envelope{Event: EventLeave, Data: data}
}
