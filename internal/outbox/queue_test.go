package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gbrandao/pchat/internal/bus"
	"github.com/gbrandao/pchat/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(testDB(t), DefaultSchedule, 3, zap.NewNop())
}

func TestScheduleDelays(t *testing.T) {
	s := DefaultSchedule
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 60 * time.Second},
		{2, 300 * time.Second},
		{3, 900 * time.Second},
		{4, 900 * time.Second}, // capped
		{9, 900 * time.Second},
	}
	for _, c := range cases {
		if got := s.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestMarkFailureBackoffMonotonic(t *testing.T) {
	q := testQueue(t)
	if err := q.Enqueue(&store.OutboxEntry{LocalID: "l1", ConversationID: "c1", SenderID: "me", Content: "x", MessageType: "text", CreatedAt: time.Now().UnixMilli()}); err != nil {
		t.Fatal(err)
	}

	wantFloors := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	for i, floor := range wantFloors {
		before := time.Now()
		exhausted, err := q.MarkFailure("l1", errors.New("net down"))
		if err != nil {
			t.Fatal(err)
		}
		if exhausted {
			t.Fatalf("exhausted after %d failures", i+1)
		}
		e, err := q.db.GetOutbox("l1")
		if err != nil {
			t.Fatal(err)
		}
		if e.RetryCount != i+1 {
			t.Errorf("retry_count = %d, want %d", e.RetryCount, i+1)
		}
		earliest := before.Add(floor).UnixMilli()
		if e.NextRetryAt < earliest {
			t.Errorf("attempt %d: next_retry_at %d earlier than floor %d", i+1, e.NextRetryAt, earliest)
		}
	}

	// Fourth failure exhausts the entry: retained, surfaced, not auto-retried.
	exhausted, err := q.MarkFailure("l1", errors.New("net down"))
	if err != nil {
		t.Fatal(err)
	}
	if !exhausted {
		t.Error("expected exhaustion after max retries")
	}
	due, err := q.Due(time.Now().Add(24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("exhausted entry still due: %v", due)
	}
	retained, err := q.Exhausted()
	if err != nil {
		t.Fatal(err)
	}
	if len(retained) != 1 {
		t.Errorf("got %d retained entries, want 1", len(retained))
	}
}

func TestRetainSkipsAutoRetry(t *testing.T) {
	q := testQueue(t)
	if err := q.Enqueue(&store.OutboxEntry{LocalID: "l1", ConversationID: "c1", SenderID: "me", Content: "x", MessageType: "text", CreatedAt: time.Now().UnixMilli()}); err != nil {
		t.Fatal(err)
	}
	if err := q.Retain("l1", errors.New("authentication failed")); err != nil {
		t.Fatal(err)
	}
	due, _ := q.Due(time.Now().Add(time.Hour))
	if len(due) != 0 {
		t.Error("retained entry offered for auto-retry")
	}
	retained, _ := q.Exhausted()
	if len(retained) != 1 {
		t.Fatalf("got %d retained entries, want 1", len(retained))
	}
	if retained[0].LastError != "authentication failed" {
		t.Errorf("last_error = %q", retained[0].LastError)
	}
}

func TestFlusherReplaysDueInOrder(t *testing.T) {
	q := testQueue(t)
	base := time.Now().Add(-time.Hour).UnixMilli()
	for i, id := range []string{"l1", "l2", "l3"} {
		if err := q.Enqueue(&store.OutboxEntry{
			LocalID: id, ConversationID: "c1", SenderID: "me",
			Content: id, MessageType: "text", CreatedAt: base + int64(i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	var replayed []string
	send := func(_ context.Context, e store.OutboxEntry) {
		replayed = append(replayed, e.LocalID)
	}
	b := bus.New()
	f := NewFlusher(q, send, func() bool { return true }, time.Hour, b, zap.NewNop())

	f.Flush(context.Background())

	if len(replayed) != 3 {
		t.Fatalf("replayed %d entries, want 3", len(replayed))
	}
	for i, want := range []string{"l1", "l2", "l3"} {
		if replayed[i] != want {
			t.Errorf("replayed[%d] = %s, want %s (creation order)", i, replayed[i], want)
		}
	}
}

func TestFlusherFlushesOnReconnect(t *testing.T) {
	q := testQueue(t)
	if err := q.Enqueue(&store.OutboxEntry{
		LocalID: "l1", ConversationID: "c1", SenderID: "me",
		Content: "x", MessageType: "text", CreatedAt: time.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	sent := make(chan string, 1)
	send := func(_ context.Context, e store.OutboxEntry) {
		sent <- e.LocalID
	}
	b := bus.New()
	f := NewFlusher(q, send, func() bool { return true }, time.Hour, b, zap.NewNop())
	f.Start(context.Background())
	defer f.Stop()

	// Give the loop time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	b.Publish(bus.Event{Kind: bus.NetOnline, Timestamp: time.Now()})

	select {
	case id := <-sent:
		if id != "l1" {
			t.Errorf("replayed %s, want l1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for reconnect flush")
	}
}
