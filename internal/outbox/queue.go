package outbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gbrandao/pchat/internal/store"
)

// Schedule maps a retry attempt number to the minimum delay before that
// attempt. The last step is the cap for all later attempts.
type Schedule []time.Duration

// DefaultSchedule is the built-in backoff floor: 60s, then 300s, then 900s
// capped.
var DefaultSchedule = Schedule{60 * time.Second, 300 * time.Second, 900 * time.Second}

// Delay returns the backoff floor before the given attempt (1-based).
func (s Schedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s) {
		attempt = len(s)
	}
	return s[attempt-1]
}

// Queue is the durable collection of unconfirmed sends. It owns the retry
// bookkeeping: nothing else writes retry_count or next_retry_at. Entries are
// appended and removed, never rewritten, so a flush racing a fresh send
// cannot corrupt either.
type Queue struct {
	db         *store.DB
	schedule   Schedule
	maxRetries int
	logger     *zap.Logger
}

// NewQueue creates an outbox queue over the store.
func NewQueue(db *store.DB, schedule Schedule, maxRetries int, logger *zap.Logger) *Queue {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	return &Queue{
		db:         db,
		schedule:   schedule,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// MaxRetries returns the configured auto-retry ceiling.
func (q *Queue) MaxRetries() int { return q.maxRetries }

// Enqueue records an unconfirmed message. Idempotent per local id: an entry
// already present is left untouched, so a duplicate tap or a flush racing
// the original send cannot create a second entry.
func (q *Queue) Enqueue(e *store.OutboxEntry) error {
	if err := q.db.EnqueueOutbox(e); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

// Remove drops an entry after confirmation or deterministic rejection.
func (q *Queue) Remove(localID string) error {
	if err := q.db.RemoveOutbox(localID); err != nil {
		return fmt.Errorf("remove outbox: %w", err)
	}
	return nil
}

// MarkFailure records a failed attempt and schedules the next one per the
// backoff floor. Returns true when the entry has exhausted its retries and
// will be retained without further automatic attempts.
func (q *Queue) MarkFailure(localID string, sendErr error) (exhausted bool, err error) {
	entry, err := q.db.GetOutbox(localID)
	if err != nil {
		return false, fmt.Errorf("load outbox entry: %w", err)
	}
	if entry == nil {
		return false, fmt.Errorf("outbox entry %s not found", localID)
	}

	attempt := entry.RetryCount + 1
	nextRetryAt := time.Now().Add(q.schedule.Delay(attempt)).UnixMilli()
	if err := q.db.MarkOutboxFailure(localID, sendErr.Error(), nextRetryAt); err != nil {
		return false, fmt.Errorf("mark outbox failure: %w", err)
	}

	if attempt > q.maxRetries {
		q.logger.Warn("outbox entry exhausted retries, retaining",
			zap.String("local_id", localID),
			zap.Int("attempts", attempt),
			zap.String("last_error", sendErr.Error()))
		return true, nil
	}
	return false, nil
}

// Retain parks an entry beyond the auto-retry ceiling without dropping it.
// Used for failures that must never be silently retried, such as auth
// errors: the entry stays visible and replayable by an explicit user retry.
func (q *Queue) Retain(localID string, sendErr error) error {
	if err := q.db.RetainOutbox(localID, sendErr.Error(), q.maxRetries+1); err != nil {
		return fmt.Errorf("retain outbox: %w", err)
	}
	return nil
}

// Due returns entries eligible for replay at now, ordered by creation time
// within each conversation.
func (q *Queue) Due(now time.Time) ([]store.OutboxEntry, error) {
	return q.db.DueOutbox(now.UnixMilli(), q.maxRetries)
}

// Pending returns every open entry for a conversation, for re-surfacing
// Sending/Failed affordances after a cold start.
func (q *Queue) Pending(conversationID string) ([]store.OutboxEntry, error) {
	return q.db.PendingOutbox(conversationID)
}

// Exhausted returns retained entries that hit the retry ceiling. Surfaced to
// the user for manual retry or discard.
func (q *Queue) Exhausted() ([]store.OutboxEntry, error) {
	return q.db.ExhaustedOutbox(q.maxRetries)
}
