package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + key). Used for optimistic local entries as well as
// authoritative server copies.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, key, server_id, local_id, sender_id, content, media_url, message_type, state, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, key) DO UPDATE SET
			content = excluded.content,
			media_url = excluded.media_url,
			state = excluded.state,
			updated_at = ?,
			deleted_at = excluded.deleted_at`,
		m.ConversationID, m.Key, m.ServerID, m.LocalID, m.SenderID, m.Content, m.MediaURL, m.MessageType, m.State, m.CreatedAt, m.UpdatedAt, m.DeletedAt, now)
	return err
}

// ConfirmMessage assigns a server identity to the optimistic row matched by
// localID, in place. If the server copy already arrived through the realtime
// echo the optimistic row is collapsed into it instead, so exactly one row
// remains either way.
func (db *DB) ConfirmMessage(conversationID, localID, serverID string, serverCreatedAt int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()

	var existing int64
	err = tx.QueryRow(`SELECT id FROM messages WHERE conversation_id = ? AND key = ?`, conversationID, serverID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`
			UPDATE messages
			SET key = ?, server_id = ?, state = 'sent', created_at = ?, updated_at = ?
			WHERE conversation_id = ? AND key = ? AND server_id = ''`,
			serverID, serverID, serverCreatedAt, now, conversationID, localID); err != nil {
			return fmt.Errorf("confirm message: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lookup server row: %w", err)
	default:
		// Echo won the race: keep the server row, drop the optimistic one.
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND key = ? AND server_id = ''`, conversationID, localID); err != nil {
			return fmt.Errorf("drop optimistic row: %w", err)
		}
		if _, err := tx.Exec(`UPDATE messages SET local_id = ?, state = 'sent', updated_at = ? WHERE id = ?`, localID, now, existing); err != nil {
			return fmt.Errorf("adopt local id: %w", err)
		}
	}

	return tx.Commit()
}

// UpsertRemoteMessage ingests a server-authoritative copy. If the message
// originated on this device the optimistic row (keyed by local id) is
// upgraded in place; otherwise this is a plain idempotent upsert keyed by
// server id.
func (db *DB) UpsertRemoteMessage(m *Message) error {
	if m.ServerID == "" {
		return fmt.Errorf("remote message without server id")
	}
	if m.LocalID != "" {
		if err := db.ConfirmMessage(m.ConversationID, m.LocalID, m.ServerID, m.CreatedAt); err != nil {
			return err
		}
	}
	m.Key = m.ServerID
	m.State = nonEmpty(m.State, "received")
	return db.UpsertMessage(m)
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, key, server_id, local_id, sender_id, content, media_url, message_type, state, created_at, updated_at, deleted_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC, key DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

// GetMessageByKey returns a single message by its identity key.
func (db *DB) GetMessageByKey(conversationID, key string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, conversation_id, key, server_id, local_id, sender_id, content, media_url, message_type, state, created_at, updated_at, deleted_at
		FROM messages
		WHERE conversation_id = ? AND key = ?`, conversationID, key)
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Key, &m.ServerID, &m.LocalID, &m.SenderID, &m.Content, &m.MediaURL, &m.MessageType, &m.State, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Key, &m.ServerID, &m.LocalID, &m.SenderID, &m.Content, &m.MediaURL, &m.MessageType, &m.State, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
