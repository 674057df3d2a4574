package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gbrandao/pchat/internal/bus"
	"github.com/gbrandao/pchat/internal/remote"
)

// envelope is the wire form of every push event.
type envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Data           json.RawMessage `json:"data"`
}

// MessageEvent is the payload for an inbound new_message push.
type MessageEvent struct {
	Message remote.WireMessage
}

// ReceiptEvent is the payload for an inbound read_receipt push.
type ReceiptEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	ReadAt         int64  `json:"read_at"`
}

// TypingEvent is the payload for an inbound typing push.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ConversationEvent is the payload for an inbound conversation_updated push.
type ConversationEvent struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

// ParseEvent decodes one wire frame into a bus event. Unrecognized or
// malformed frames return an error; the caller logs and drops them without
// disturbing the stream.
func ParseEvent(data []byte) (bus.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return bus.Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	evt := bus.Event{Timestamp: time.Now()}
	switch env.Type {
	case "new_message":
		var msg remote.WireMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return bus.Event{}, fmt.Errorf("decode new_message: %w", err)
		}
		if msg.ServerID == "" || msg.ConversationID == "" {
			return bus.Event{}, fmt.Errorf("new_message missing identity (id=%q conversation=%q)", msg.ServerID, msg.ConversationID)
		}
		evt.Kind = bus.RealtimeMessage
		evt.Payload = MessageEvent{Message: msg}
	case "read_receipt":
		var r ReceiptEvent
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return bus.Event{}, fmt.Errorf("decode read_receipt: %w", err)
		}
		if r.ConversationID == "" {
			r.ConversationID = env.ConversationID
		}
		if r.MessageID == "" || r.UserID == "" {
			return bus.Event{}, fmt.Errorf("read_receipt missing message or user id")
		}
		evt.Kind = bus.RealtimeReceipt
		evt.Payload = r
	case "typing":
		var t TypingEvent
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return bus.Event{}, fmt.Errorf("decode typing: %w", err)
		}
		if t.ConversationID == "" {
			t.ConversationID = env.ConversationID
		}
		if t.ConversationID == "" || t.UserID == "" {
			return bus.Event{}, fmt.Errorf("typing missing conversation or user id")
		}
		evt.Kind = bus.RealtimeTyping
		evt.Payload = t
	case "conversation_updated":
		var c ConversationEvent
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return bus.Event{}, fmt.Errorf("decode conversation_updated: %w", err)
		}
		if c.ConversationID == "" {
			c.ConversationID = env.ConversationID
		}
		evt.Kind = bus.RealtimeConversation
		evt.Payload = c
	default:
		return bus.Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}

	return evt, nil
}
