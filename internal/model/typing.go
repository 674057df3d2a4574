package model

import "time"

// TypingIndicator marks a user as actively typing in a conversation.
// Ephemeral: never persisted, invalidated when not refreshed within the TTL.
type TypingIndicator struct {
	ConversationID string
	UserID         string
	LastTyped      time.Time
}

// Expired reports whether the indicator is stale at now for the given TTL.
func (t TypingIndicator) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.LastTyped) > ttl
}
