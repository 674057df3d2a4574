package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gbrandao/pchat/internal/bus"
	"github.com/gbrandao/pchat/internal/store"
)

// SendFunc replays one outbox entry through the coordinator's send path.
// The coordinator's in-flight guard makes concurrent replays of the same
// entry harmless.
type SendFunc func(ctx context.Context, entry store.OutboxEntry)

// Flusher replays due outbox entries. It runs on a ticker and immediately on
// offline→online transitions, and outlives any single conversation screen.
type Flusher struct {
	queue    *Queue
	send     SendFunc
	online   func() bool
	interval time.Duration
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewFlusher creates a flusher. online gates ticker-driven flushes so the
// queue is not churned while the device is known to be offline.
func NewFlusher(queue *Queue, send SendFunc, online func() bool, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Flusher {
	return &Flusher{
		queue:    queue,
		send:     send,
		online:   online,
		interval: interval,
		bus:      b,
		logger:   logger,
	}
}

// Start begins the flush loop.
func (f *Flusher) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	ch, unsub := f.bus.Subscribe("net.", 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case evt := <-ch:
				if evt.Kind == bus.NetOnline {
					f.Flush(ctx)
				}
			case <-ticker.C:
				if f.online == nil || f.online() {
					f.Flush(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the flush loop.
func (f *Flusher) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

// Flush replays every due entry in creation order per conversation. Safe to
// call concurrently with new sends: entries are keyed by local id end to end
// and a replay of an in-flight entry is dropped by the coordinator.
func (f *Flusher) Flush(ctx context.Context) {
	due, err := f.queue.Due(time.Now())
	if err != nil {
		f.logger.Error("failed to read due outbox entries", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	f.logger.Info("flushing outbox", zap.Int("entries", len(due)))
	for _, entry := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		f.send(ctx, entry)
	}

	f.bus.Publish(bus.Event{
		Kind:      bus.OutboxFlushed,
		Timestamp: time.Now(),
		Payload:   len(due),
	})
}
