package bus

import "time"

// Kind names a domain event. Kinds are dot-namespaced; subscribers filter
// by namespace prefix.
type Kind string

// Realtime events, published by the realtime client as pushes arrive from
// the server channel. Upstream delivery is at-least-once and unordered;
// consumers must deduplicate.
const (
	RealtimeMessage      Kind = "rt.message"
	RealtimeReceipt      Kind = "rt.receipt"
	RealtimeTyping       Kind = "rt.typing"
	RealtimeConversation Kind = "rt.conversation_updated"
)

// Domain events, published after local state has changed.
const (
	MessageUpserted   Kind = "message.upserted"
	MessageSendAck    Kind = "message.send_ack"
	MessageSendFailed Kind = "message.send_failed"
	TypingChanged     Kind = "typing.changed"
)

// Connectivity, session and outbox events.
const (
	NetOnline     Kind = "net.online"
	NetOffline    Kind = "net.offline"
	StatusChanged Kind = "session.status_changed"
	OutboxFlushed Kind = "outbox.flushed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}
