package model

import (
	"fmt"
	"slices"
	"time"
)

// SendState is the synchronization lifecycle state of a message.
type SendState string

const (
	// Draft is the initial state of a locally composed message.
	Draft SendState = "draft"
	// Sending means a remote create attempt is in flight.
	Sending SendState = "sending"
	// Sent means the server confirmed the message. Terminal for sync
	// purposes; receipts may still attach.
	Sent SendState = "sent"
	// Failed means the last attempt failed and the message sits in the
	// outbox awaiting retry.
	Failed SendState = "failed"
	// Received marks inbound messages, which never pass through the
	// send lifecycle.
	Received SendState = "received"
)

// validTransitions defines the allowed send lifecycle transitions.
var validTransitions = map[SendState][]SendState{
	Draft:   {Sending},
	Sending: {Sent, Failed},
	Failed:  {Sending},
}

// Message is the in-memory representation of a chat message.
type Message struct {
	ID             ID
	ConversationID string
	SenderID       string
	Content        string
	MediaURL       string
	Type           string // text, image, video, audio, file
	State          SendState
	CreatedAt      time.Time // client time until confirmed, then server time
	UpdatedAt      time.Time
	DeletedAt      time.Time
	Receipts       []ReadReceipt
}

// Transition moves the message to a new send state. Returns an error if the
// transition is not allowed.
func (m *Message) Transition(to SendState) error {
	allowed := validTransitions[m.State]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s for %s", m.State, to, m.ID)
	}
	m.State = to
	return nil
}

// Deleted reports whether the message carries a deletion tombstone.
func (m *Message) Deleted() bool {
	return !m.DeletedAt.IsZero()
}

// AddReceipt records that userID read the message. Idempotent per user:
// the first receipt wins and later ones are ignored.
func (m *Message) AddReceipt(userID string, readAt time.Time) bool {
	for _, r := range m.Receipts {
		if r.UserID == userID {
			return false
		}
	}
	m.Receipts = append(m.Receipts, ReadReceipt{UserID: userID, ReadAt: readAt})
	return true
}

// ReadReceipt records that a user has read a message. Unique per
// (message, user); ReadAt is the first observed read time.
type ReadReceipt struct {
	UserID string
	ReadAt time.Time
}
