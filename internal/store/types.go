package store

import (
	"time"

	"github.com/gbrandao/pchat/internal/model"
)

// Conversation represents a synced conversation.
type Conversation struct {
	ID                 string
	Title              string
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is the durable row form of a message. Timestamps are Unix millis.
type Message struct {
	ID             int64
	ConversationID string
	Key            string
	ServerID       string
	LocalID        string
	SenderID       string
	Content        string
	MediaURL       string
	MessageType    string
	State          string
	CreatedAt      int64
	UpdatedAt      int64
	DeletedAt      int64
}

// OutboxEntry represents a pending outgoing message awaiting send or retry.
type OutboxEntry struct {
	LocalID        string
	ConversationID string
	SenderID       string
	Content        string
	MediaURL       string
	MessageType    string
	CreatedAt      int64
	RetryCount     int
	LastError      string
	NextRetryAt    int64
}

// Receipt is the durable row form of a read receipt.
type Receipt struct {
	ServerID string
	UserID   string
	ReadAt   int64
}

// ToModel converts a row to the in-memory message form.
func (m *Message) ToModel() *model.Message {
	var id model.ID
	if m.ServerID != "" {
		id = model.NewRemoteID(m.ServerID, m.LocalID)
	} else {
		id = model.NewLocalID(m.LocalID)
	}
	out := &model.Message{
		ID:             id,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		Type:           m.MessageType,
		State:          model.SendState(m.State),
		CreatedAt:      time.UnixMilli(m.CreatedAt),
	}
	if m.UpdatedAt > 0 {
		out.UpdatedAt = time.UnixMilli(m.UpdatedAt)
	}
	if m.DeletedAt > 0 {
		out.DeletedAt = time.UnixMilli(m.DeletedAt)
	}
	return out
}

// FromModel converts an in-memory message to its row form.
func FromModel(m *model.Message) *Message {
	row := &Message{
		ConversationID: m.ConversationID,
		Key:            m.ID.Key(),
		ServerID:       m.ID.ServerID,
		LocalID:        m.ID.LocalID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		MessageType:    m.Type,
		State:          string(m.State),
		CreatedAt:      m.CreatedAt.UnixMilli(),
	}
	if !m.UpdatedAt.IsZero() {
		row.UpdatedAt = m.UpdatedAt.UnixMilli()
	}
	if !m.DeletedAt.IsZero() {
		row.DeletedAt = m.DeletedAt.UnixMilli()
	}
	return row
}
