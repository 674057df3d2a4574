package store

import "database/sql"

// The outbox table is append/remove-only, keyed by local_id. Rows are never
// rewritten wholesale; only the retry bookkeeping columns change, and only
// the outbox package calls those methods.

// EnqueueOutbox adds an entry for an unconfirmed message. Idempotent per
// local id: re-enqueueing an already queued message is a no-op.
func (db *DB) EnqueueOutbox(e *OutboxEntry) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO outbox (local_id, conversation_id, sender_id, content, media_url, message_type, created_at, retry_count, last_error, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LocalID, e.ConversationID, e.SenderID, e.Content, e.MediaURL, e.MessageType, e.CreatedAt, e.RetryCount, e.LastError, e.NextRetryAt)
	return err
}

// GetOutbox returns a single entry by local id, or nil when absent.
func (db *DB) GetOutbox(localID string) (*OutboxEntry, error) {
	row := db.QueryRow(`
		SELECT local_id, conversation_id, sender_id, content, media_url, message_type, created_at, retry_count, last_error, next_retry_at
		FROM outbox WHERE local_id = ?`, localID)
	var e OutboxEntry
	err := row.Scan(&e.LocalID, &e.ConversationID, &e.SenderID, &e.Content, &e.MediaURL, &e.MessageType, &e.CreatedAt, &e.RetryCount, &e.LastError, &e.NextRetryAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RemoveOutbox deletes an entry after the send was confirmed or dropped.
func (db *DB) RemoveOutbox(localID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE local_id = ?`, localID)
	return err
}

// MarkOutboxFailure increments the retry counter and schedules the next
// attempt. Sole caller is the outbox queue.
func (db *DB) MarkOutboxFailure(localID, lastError string, nextRetryAt int64) error {
	_, err := db.Exec(`
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
		WHERE local_id = ?`,
		lastError, nextRetryAt, localID)
	return err
}

// RetainOutbox parks an entry past the auto-retry ceiling so only an
// explicit user retry touches it again. Sole caller is the outbox queue.
func (db *DB) RetainOutbox(localID, lastError string, retryCount int) error {
	_, err := db.Exec(`
		UPDATE outbox
		SET retry_count = ?, last_error = ?, next_retry_at = 0
		WHERE local_id = ?`,
		retryCount, lastError, localID)
	return err
}

// DueOutbox returns entries whose next_retry_at has elapsed and that still
// have retries left, in creation order so per-conversation causal order is
// preserved on replay.
func (db *DB) DueOutbox(now int64, maxRetries int) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT local_id, conversation_id, sender_id, content, media_url, message_type, created_at, retry_count, last_error, next_retry_at
		FROM outbox
		WHERE next_retry_at <= ? AND retry_count <= ?
		ORDER BY conversation_id, created_at ASC`, now, maxRetries)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOutbox(rows)
}

// PendingOutbox returns every open entry for a conversation in creation
// order, for re-surfacing after a cold start. Empty conversationID returns
// all entries.
func (db *DB) PendingOutbox(conversationID string) ([]OutboxEntry, error) {
	query := `
		SELECT local_id, conversation_id, sender_id, content, media_url, message_type, created_at, retry_count, last_error, next_retry_at
		FROM outbox`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY conversation_id, created_at ASC`
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOutbox(rows)
}

// ExhaustedOutbox returns entries past the retry limit. They are retained
// and surfaced, never auto-retried.
func (db *DB) ExhaustedOutbox(maxRetries int) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT local_id, conversation_id, sender_id, content, media_url, message_type, created_at, retry_count, last_error, next_retry_at
		FROM outbox
		WHERE retry_count > ?
		ORDER BY conversation_id, created_at ASC`, maxRetries)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOutbox(rows)
}

func scanOutbox(rows *sql.Rows) ([]OutboxEntry, error) {
	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.LocalID, &e.ConversationID, &e.SenderID, &e.Content, &e.MediaURL, &e.MessageType, &e.CreatedAt, &e.RetryCount, &e.LastError, &e.NextRetryAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
