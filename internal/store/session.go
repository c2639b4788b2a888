package store

import (
	"context"
	"time"

	"github.com/crisari666/wamon/internal/model"
)

// UpsertSession inserts or updates a session record (idempotent on session_id).
func (db *DB) UpsertSession(ctx context.Context, s model.Session) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, status, last_seen, ref_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			last_seen = excluded.last_seen,
			ref_id = excluded.ref_id,
			updated_at = excluded.updated_at`,
		s.SessionID, string(s.Status), s.LastSeen, s.RefID, now)
	return err
}

// DeleteSession removes a session that was destroyed server-side. Its chats
// and messages stay; the archive keeps history the server no longer has.
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

// ListSessions returns all archived sessions sorted by id.
func (db *DB) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, status, last_seen, ref_id
		FROM sessions
		ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Session
	for rows.Next() {
		var s model.Session
		var status string
		if err := rows.Scan(&s.SessionID, &status, &s.LastSeen, &s.RefID); err != nil {
			return nil, err
		}
		s.Status = model.SessionStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}
