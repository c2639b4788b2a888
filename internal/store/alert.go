package store

import (
	"context"

	"github.com/crisari666/wamon/internal/model"
)

// UpsertAlert inserts or updates an alert (idempotent on alert_id).
func (db *DB) UpsertAlert(ctx context.Context, a model.Alert) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, session_id, chat_id, type, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(alert_id) DO UPDATE SET
			is_read = excluded.is_read`,
		a.ID, a.SessionID, a.ChatID, string(a.Type), a.IsRead, a.CreatedAt)
	return err
}

// MarkAlertRead flags an archived alert as read.
func (db *DB) MarkAlertRead(ctx context.Context, alertID string) error {
	_, err := db.ExecContext(ctx, `UPDATE alerts SET is_read = 1 WHERE alert_id = ?`, alertID)
	return err
}

// ListAlerts returns archived alerts for a session, newest first, optionally
// scoped to one chat.
func (db *DB) ListAlerts(ctx context.Context, sessionID, chatID string) ([]model.Alert, error) {
	query := `
		SELECT alert_id, session_id, chat_id, type, is_read, created_at
		FROM alerts
		WHERE session_id = ?`
	args := []any{sessionID}
	if chatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ChatID, &typ, &a.IsRead, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = model.AlertType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}
