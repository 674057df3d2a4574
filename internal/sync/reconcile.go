package sync

import (
	"sort"
	"time"

	"github.com/gbrandao/pchat/internal/model"
	"github.com/gbrandao/pchat/internal/store"
)

// Merge combines a server-authoritative window, the local view, and open
// outbox entries into one deduplicated ordered list.
//
// Rules: the server copy wins for any identity that has a server id;
// local-only entries (no server id yet) are overlaid by local id; outbox
// entries without a matching message are resurfaced so retry affordances
// survive a cold restart. The result is ordered by effective timestamp
// (authoritative server time once assigned, optimistic local time before),
// with a deterministic tie-break so confirmed messages never swap order
// between merges.
func Merge(server, local []*model.Message, pending []store.OutboxEntry) []*model.Message {
	byServer := make(map[string]*model.Message)
	byLocal := make(map[string]*model.Message)

	add := func(m *model.Message) {
		if m.ID.Confirmed() {
			byServer[m.ID.ServerID] = m
			if m.ID.LocalID != "" {
				// The confirmed copy subsumes the optimistic one.
				delete(byLocal, m.ID.LocalID)
			}
			return
		}
		// Skip local entries whose confirmation is already present.
		if m.ID.LocalID != "" {
			byLocal[m.ID.LocalID] = m
		}
	}

	// Local first, server second: server copies overwrite by identity.
	for _, m := range local {
		add(m)
	}
	for _, m := range server {
		add(m)
	}

	// Drop optimistic entries that a server copy claimed by local id.
	for _, m := range byServer {
		if m.ID.LocalID != "" {
			delete(byLocal, m.ID.LocalID)
		}
	}

	// Resurface outbox entries with no in-memory counterpart.
	for _, e := range pending {
		if _, ok := byLocal[e.LocalID]; ok {
			continue
		}
		if claimed(byServer, e.LocalID) {
			continue
		}
		byLocal[e.LocalID] = entryToMessage(e)
	}

	out := make([]*model.Message, 0, len(byServer)+len(byLocal))
	for _, m := range byServer {
		out = append(out, m)
	}
	for _, m := range byLocal {
		out = append(out, m)
	}
	SortMessages(out)
	return out
}

// SortMessages orders messages by effective timestamp with a stable
// deterministic tie-break on identity key.
func SortMessages(msgs []*model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].CreatedAt, msgs[j].CreatedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return msgs[i].ID.Key() < msgs[j].ID.Key()
	})
}

// entryToMessage resurfaces an outbox entry as an in-memory message.
// Exhausted entries come back Failed; anything else is Sending, awaiting
// the next flush.
func entryToMessage(e store.OutboxEntry) *model.Message {
	state := model.Sending
	if e.LastError != "" {
		state = model.Failed
	}
	return &model.Message{
		ID:             model.NewLocalID(e.LocalID),
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		Content:        e.Content,
		MediaURL:       e.MediaURL,
		Type:           e.MessageType,
		State:          state,
		CreatedAt:      time.UnixMilli(e.CreatedAt),
	}
}

func claimed(byServer map[string]*model.Message, localID string) bool {
	for _, m := range byServer {
		if m.ID.LocalID == localID {
			return true
		}
	}
	return false
}
