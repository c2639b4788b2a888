package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crisari666/wamon/internal/model"
)

// SaveMessage inserts or updates a message (idempotent on session_id +
// chat_id + message_id). Edit history is managed by AppendEdition, so the
// update path deliberately leaves editions alone.
func (db *DB) SaveMessage(ctx context.Context, sessionID string, m model.Message) error {
	editions, err := json.Marshal(m.Edition)
	if err != nil {
		return fmt.Errorf("encode editions: %w", err)
	}
	if m.Edition == nil {
		editions = []byte("[]")
	}
	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx, `
		INSERT INTO messages (session_id, chat_id, message_id, body, from_me, timestamp,
			is_deleted, deleted_at, editions, media_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chat_id, message_id) DO UPDATE SET
			body = excluded.body,
			media_type = excluded.media_type`,
		sessionID, m.ChatID, m.MessageID, m.Body, m.FromMe, m.Timestamp,
		m.IsDeleted, m.DeletedAt, string(editions), m.MediaType, now)
	return err
}

// AppendEdition records one edit: previousBody goes to the end of the
// editions list and the body becomes newBody. Runs in a transaction so
// concurrent edits cannot drop history entries.
func (db *DB) AppendEdition(ctx context.Context, sessionID, chatID, messageID, previousBody, newBody string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `
		SELECT editions FROM messages
		WHERE session_id = ? AND chat_id = ? AND message_id = ?`,
		sessionID, chatID, messageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		// Edit for a message we never archived. Nothing to attach it to.
		return nil
	}
	if err != nil {
		return err
	}

	var editions []string
	if err := json.Unmarshal([]byte(raw), &editions); err != nil {
		return fmt.Errorf("decode editions: %w", err)
	}
	editions = append(editions, previousBody)
	encoded, err := json.Marshal(editions)
	if err != nil {
		return fmt.Errorf("encode editions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET body = ?, editions = ?
		WHERE session_id = ? AND chat_id = ? AND message_id = ?`,
		newBody, string(encoded), sessionID, chatID, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkMessageDeleted flags a message as deleted. The row stays for history.
func (db *DB) MarkMessageDeleted(ctx context.Context, sessionID, chatID, messageID string, deletedAt int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE messages SET is_deleted = 1, deleted_at = ?
		WHERE session_id = ? AND chat_id = ? AND message_id = ?`,
		deletedAt, sessionID, chatID, messageID)
	return err
}

// ListMessages returns a chat's archived messages ascending by timestamp.
func (db *DB) ListMessages(ctx context.Context, sessionID, chatID string, includeDeleted bool) ([]model.Message, error) {
	query := `
		SELECT message_id, chat_id, body, from_me, timestamp, is_deleted, deleted_at, editions, media_type
		FROM messages
		WHERE session_id = ? AND chat_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, sessionID, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var editions string
		if err := rows.Scan(&m.MessageID, &m.ChatID, &m.Body, &m.FromMe, &m.Timestamp,
			&m.IsDeleted, &m.DeletedAt, &editions, &m.MediaType); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(editions), &m.Edition); err != nil {
			return nil, fmt.Errorf("decode editions: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
