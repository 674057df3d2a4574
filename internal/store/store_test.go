package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{
		ConversationID: "c1", Key: "s1", ServerID: "s1",
		SenderID: "u2", Content: "v1", MessageType: "text",
		State: "received", CreatedAt: 1000,
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Content = "v2"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Content != "v2" {
		t.Errorf("content = %q, want v2", msgs[0].Content)
	}
}

func TestConfirmMessage(t *testing.T) {
	db := testDB(t)

	// Optimistic row keyed by local id.
	if err := db.UpsertMessage(&Message{
		ConversationID: "c1", Key: "l1", LocalID: "l1",
		SenderID: "me", Content: "hi", MessageType: "text",
		State: "sending", CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.ConfirmMessage("c1", "l1", "s1", 1500); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Key != "s1" || m.ServerID != "s1" || m.LocalID != "l1" {
		t.Errorf("identity = key=%q server=%q local=%q", m.Key, m.ServerID, m.LocalID)
	}
	if m.State != "sent" || m.CreatedAt != 1500 {
		t.Errorf("state=%q created_at=%d, want sent/1500", m.State, m.CreatedAt)
	}

	// Lookup by identity key follows the rewrite.
	byKey, err := db.GetMessageByKey("c1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if byKey == nil || byKey.LocalID != "l1" {
		t.Errorf("GetMessageByKey(s1) = %+v", byKey)
	}
	gone, err := db.GetMessageByKey("c1", "l1")
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Errorf("old local key still resolves: %+v", gone)
	}
}

func TestConfirmAfterEcho(t *testing.T) {
	db := testDB(t)

	// Optimistic row exists.
	if err := db.UpsertMessage(&Message{
		ConversationID: "c1", Key: "l1", LocalID: "l1",
		SenderID: "me", Content: "hi", MessageType: "text",
		State: "sending", CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	// Echo lands first.
	if err := db.UpsertRemoteMessage(&Message{
		ConversationID: "c1", ServerID: "s1", LocalID: "l1",
		SenderID: "me", Content: "hi", MessageType: "text",
		State: "sent", CreatedAt: 1500,
	}); err != nil {
		t.Fatal(err)
	}

	// Then the HTTP confirmation.
	if err := db.ConfirmMessage("c1", "l1", "s1", 1500); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1 (no duplicate)", len(msgs))
	}
	if msgs[0].Key != "s1" || msgs[0].LocalID != "l1" {
		t.Errorf("identity = key=%q local=%q", msgs[0].Key, msgs[0].LocalID)
	}
}

func TestUpsertRemoteMessageDuplicate(t *testing.T) {
	db := testDB(t)

	remote := &Message{
		ConversationID: "c1", ServerID: "s1",
		SenderID: "u2", Content: "hello", MessageType: "text",
		CreatedAt: 1000,
	}
	if err := db.UpsertRemoteMessage(remote); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertRemoteMessage(remote); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1", len(msgs))
	}
}

func TestReceiptFirstWriteWins(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessage(&Message{
		ConversationID: "c1", Key: "s1", ServerID: "s1",
		SenderID: "me", Content: "hi", MessageType: "text",
		State: "sent", CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.AddReceipt("s1", "u2", 2000); err != nil {
		t.Fatal(err)
	}
	// Second write for the same pair is ignored.
	if err := db.AddReceipt("s1", "u2", 9000); err != nil {
		t.Fatal(err)
	}

	receipts, err := db.ListReceipts("c1")
	if err != nil {
		t.Fatal(err)
	}
	rs := receipts["s1"]
	if len(rs) != 1 {
		t.Fatalf("got %d receipts, want 1", len(rs))
	}
	if rs[0].ReadAt != 2000 {
		t.Errorf("read_at = %d, want 2000 (first write wins)", rs[0].ReadAt)
	}
}

func TestOutboxEnqueueIdempotent(t *testing.T) {
	db := testDB(t)

	e := &OutboxEntry{LocalID: "l1", ConversationID: "c1", SenderID: "me", Content: "hi", MessageType: "text", CreatedAt: 1000}
	if err := db.EnqueueOutbox(e); err != nil {
		t.Fatal(err)
	}
	e2 := *e
	e2.Content = "changed"
	if err := db.EnqueueOutbox(&e2); err != nil {
		t.Fatal(err)
	}

	entries, err := db.PendingOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Content != "hi" {
		t.Errorf("content = %q, want original preserved", entries[0].Content)
	}
}

func TestOutboxDueOrdering(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"l1", "l2", "l3"} {
		if err := db.EnqueueOutbox(&OutboxEntry{
			LocalID: id, ConversationID: "c1", SenderID: "me",
			Content: id, MessageType: "text", CreatedAt: int64(1000 + i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	due, err := db.DueOutbox(5000, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 3 {
		t.Fatalf("got %d due entries, want 3", len(due))
	}
	for i, want := range []string{"l1", "l2", "l3"} {
		if due[i].LocalID != want {
			t.Errorf("due[%d] = %s, want %s (creation order)", i, due[i].LocalID, want)
		}
	}
}

func TestOutboxFailureAndExhaustion(t *testing.T) {
	db := testDB(t)
	if err := db.EnqueueOutbox(&OutboxEntry{LocalID: "l1", ConversationID: "c1", SenderID: "me", Content: "x", MessageType: "text", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkOutboxFailure("l1", "boom", 60_000); err != nil {
		t.Fatal(err)
	}
	e, err := db.GetOutbox("l1")
	if err != nil {
		t.Fatal(err)
	}
	if e.RetryCount != 1 || e.LastError != "boom" || e.NextRetryAt != 60_000 {
		t.Errorf("entry = %+v, want retry_count=1 last_error=boom next=60000", e)
	}

	// Not due before next_retry_at.
	due, _ := db.DueOutbox(30_000, 3)
	if len(due) != 0 {
		t.Errorf("got %d due entries before next_retry_at, want 0", len(due))
	}

	// Past the ceiling the entry is retained, not due.
	if err := db.RetainOutbox("l1", "auth", 4); err != nil {
		t.Fatal(err)
	}
	due, _ = db.DueOutbox(999_999, 3)
	if len(due) != 0 {
		t.Errorf("retained entry still due")
	}
	exhausted, _ := db.ExhaustedOutbox(3)
	if len(exhausted) != 1 {
		t.Errorf("got %d exhausted entries, want 1", len(exhausted))
	}
}

func TestOutboxRemove(t *testing.T) {
	db := testDB(t)
	if err := db.EnqueueOutbox(&OutboxEntry{LocalID: "l1", ConversationID: "c1", SenderID: "me", Content: "x", MessageType: "text", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveOutbox("l1"); err != nil {
		t.Fatal(err)
	}
	e, err := db.GetOutbox("l1")
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Errorf("entry still present after remove: %+v", e)
	}
}

func TestTouchConversationMonotonic(t *testing.T) {
	db := testDB(t)

	if err := db.TouchConversation("c1", "newer", 2000); err != nil {
		t.Fatal(err)
	}
	// Out-of-order ingestion must not regress the preview.
	if err := db.TouchConversation("c1", "older", 1000); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("conversation not created")
	}
	if c.LastMessageAt != 2000 || c.LastMessagePreview != "newer" {
		t.Errorf("conversation = %+v, want last=2000 preview=newer", c)
	}
}

func TestModelRoundTrip(t *testing.T) {
	db := testDB(t)

	row := &Message{
		ConversationID: "c1", Key: "l1", LocalID: "l1",
		SenderID: "me", Content: "hi", MessageType: "text",
		State: "failed", CreatedAt: 1000,
	}
	if err := db.UpsertMessage(row); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0, 10)
	m := msgs[0].ToModel()
	if m.ID.Confirmed() {
		t.Error("unconfirmed row came back confirmed")
	}
	if m.ID.Key() != "l1" || string(m.State) != "failed" {
		t.Errorf("model = key=%q state=%q", m.ID.Key(), m.State)
	}
}
