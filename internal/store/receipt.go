package store

// AddReceipt records that userID read the message with the given server id.
// Idempotent: the first receipt for a (message, user) pair wins and later
// writes are ignored.
func (db *DB) AddReceipt(serverID, userID string, readAt int64) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO receipts (server_id, user_id, read_at)
		VALUES (?, ?, ?)`,
		serverID, userID, readAt)
	return err
}

// ListReceipts returns all receipts for messages in a conversation, keyed by
// the message server id.
func (db *DB) ListReceipts(conversationID string) (map[string][]Receipt, error) {
	rows, err := db.Query(`
		SELECT r.server_id, r.user_id, r.read_at
		FROM receipts r
		JOIN messages m ON m.server_id = r.server_id
		WHERE m.conversation_id = ?
		ORDER BY r.read_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]Receipt)
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.ServerID, &r.UserID, &r.ReadAt); err != nil {
			return nil, err
		}
		out[r.ServerID] = append(out[r.ServerID], r)
	}
	return out, rows.Err()
}
