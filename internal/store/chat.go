package store

import (
	"context"
	"time"

	"github.com/crisari666/wamon/internal/model"
)

// SaveChat inserts or updates a chat (idempotent on session_id + chat_id).
func (db *DB) SaveChat(ctx context.Context, c model.Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO chats (session_id, chat_id, name, is_group, last_message, last_message_ts,
			last_message_from_me, archived, deleted, analysis, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chat_id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			last_message = excluded.last_message,
			last_message_ts = excluded.last_message_ts,
			last_message_from_me = excluded.last_message_from_me,
			archived = excluded.archived,
			analysis = excluded.analysis,
			updated_at = excluded.updated_at`,
		c.SessionID, c.ChatID, c.Name, c.IsGroup, c.LastMessage, c.LastMessageTimestamp,
		c.LastMessageFromMe, c.Archived, c.Deleted, c.Analysis, now)
	return err
}

// MarkChatDeleted flags a chat as removed. The row stays for history.
func (db *DB) MarkChatDeleted(ctx context.Context, sessionID, chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE chats SET deleted = 1, updated_at = ?
		WHERE session_id = ? AND chat_id = ?`,
		now, sessionID, chatID)
	return err
}

// ListChats returns the archived chats of a session, most recent first.
func (db *DB) ListChats(ctx context.Context, sessionID string) ([]model.Chat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, chat_id, name, is_group, last_message, last_message_ts,
			last_message_from_me, archived, deleted, analysis
		FROM chats
		WHERE session_id = ?
		ORDER BY last_message_ts DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.SessionID, &c.ChatID, &c.Name, &c.IsGroup, &c.LastMessage,
			&c.LastMessageTimestamp, &c.LastMessageFromMe, &c.Archived, &c.Deleted, &c.Analysis); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
