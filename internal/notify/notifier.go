package notify

import "go.uber.org/zap"

// Notifier is the notification dispatcher collaborator. It is invoked when
// a message arrives for a conversation that is not currently open; platform
// payload formatting and delivery happen behind it.
type Notifier interface {
	Notify(conversationID, title, body string)
}

// LogNotifier is the default dispatcher: it records the notification and
// does nothing else. Platform integrations replace it via injection.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(conversationID, title, body string) {
	n.logger.Info("notification",
		zap.String("conversation_id", conversationID),
		zap.String("title", title),
		zap.String("body", body))
}
