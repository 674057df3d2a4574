package sync

import (
	"testing"
	"time"

	"github.com/gbrandao/pchat/internal/model"
	"github.com/gbrandao/pchat/internal/store"
)

func remoteMsg(serverID, localID, content string, at int64) *model.Message {
	return &model.Message{
		ID:             model.NewRemoteID(serverID, localID),
		ConversationID: "c1",
		SenderID:       "u2",
		Content:        content,
		Type:           "text",
		State:          model.Received,
		CreatedAt:      time.UnixMilli(at),
	}
}

func localMsg(localID, content string, at int64, state model.SendState) *model.Message {
	return &model.Message{
		ID:             model.NewLocalID(localID),
		ConversationID: "c1",
		SenderID:       "me",
		Content:        content,
		Type:           "text",
		State:          state,
		CreatedAt:      time.UnixMilli(at),
	}
}

func TestMergeServerWins(t *testing.T) {
	local := []*model.Message{remoteMsg("s1", "", "stale", 1000)}
	server := []*model.Message{remoteMsg("s1", "", "edited", 1000)}

	out := Merge(server, local, nil)
	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1", len(out))
	}
	if out[0].Content != "edited" {
		t.Errorf("content = %q, want server copy", out[0].Content)
	}
}

func TestMergeOverlaysUnconfirmedLocal(t *testing.T) {
	server := []*model.Message{remoteMsg("s1", "", "theirs", 1000)}
	local := []*model.Message{localMsg("l1", "mine pending", 2000, model.Sending)}

	out := Merge(server, local, nil)
	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2", len(out))
	}
	if out[0].ID.Key() != "s1" || out[1].ID.Key() != "l1" {
		t.Errorf("order = %s, %s", out[0].ID.Key(), out[1].ID.Key())
	}
}

func TestMergeEchoClaimsLocal(t *testing.T) {
	// The server window already carries the confirmed copy of l1.
	server := []*model.Message{remoteMsg("s1", "l1", "hello", 1500)}
	local := []*model.Message{localMsg("l1", "hello", 1000, model.Sending)}
	pending := []store.OutboxEntry{{
		LocalID: "l1", ConversationID: "c1", SenderID: "me",
		Content: "hello", MessageType: "text", CreatedAt: 1000,
	}}

	out := Merge(server, local, pending)
	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1 (echo deduplicates optimistic and outbox copies)", len(out))
	}
	if out[0].ID.ServerID != "s1" || out[0].ID.LocalID != "l1" {
		t.Errorf("identity = %+v", out[0].ID)
	}
}

func TestMergeResurfacesOutbox(t *testing.T) {
	pending := []store.OutboxEntry{
		{LocalID: "l1", ConversationID: "c1", SenderID: "me", Content: "waiting", MessageType: "text", CreatedAt: 1000},
		{LocalID: "l2", ConversationID: "c1", SenderID: "me", Content: "broken", MessageType: "text", CreatedAt: 2000, LastError: "boom", RetryCount: 2},
	}

	out := Merge(nil, nil, pending)
	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2", len(out))
	}
	if out[0].State != model.Sending {
		t.Errorf("clean entry state = %s, want sending", out[0].State)
	}
	if out[1].State != model.Failed {
		t.Errorf("errored entry state = %s, want failed", out[1].State)
	}
}

func TestMergeOrderingStable(t *testing.T) {
	server := []*model.Message{
		remoteMsg("s2", "", "b", 1000),
		remoteMsg("s1", "", "a", 1000),
		remoteMsg("s3", "", "c", 500),
	}

	first := Merge(server, nil, nil)
	second := Merge(server, nil, nil)
	want := []string{"s3", "s1", "s2"}
	for i, k := range want {
		if first[i].ID.Key() != k {
			t.Errorf("first[%d] = %s, want %s", i, first[i].ID.Key(), k)
		}
		if second[i].ID.Key() != first[i].ID.Key() {
			t.Errorf("merge order not deterministic at %d", i)
		}
	}
}

func TestSortMessagesTieBreak(t *testing.T) {
	msgs := []*model.Message{
		remoteMsg("s9", "", "", 1000),
		remoteMsg("s1", "", "", 1000),
	}
	SortMessages(msgs)
	if msgs[0].ID.Key() != "s1" {
		t.Errorf("tie-break order = %s first", msgs[0].ID.Key())
	}
}
