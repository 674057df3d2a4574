package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gbrandao/pchat/internal/bus"
	"github.com/gbrandao/pchat/internal/model"
	"github.com/gbrandao/pchat/internal/notify"
	"github.com/gbrandao/pchat/internal/outbox"
	"github.com/gbrandao/pchat/internal/realtime"
	"github.com/gbrandao/pchat/internal/remote"
	"github.com/gbrandao/pchat/internal/store"
)

// connReporter receives connectivity observations from send/fetch attempts.
type connReporter interface {
	Report(online bool)
}

// Options tunes the coordinator.
type Options struct {
	FetchWindow   int
	TypingTTL     time.Duration
	SweepInterval time.Duration
}

// DefaultOptions returns the built-in tuning.
func DefaultOptions() Options {
	return Options{
		FetchWindow:   50,
		TypingTTL:     5 * time.Second,
		SweepInterval: 2 * time.Second,
	}
}

// Coordinator owns the in-memory ordered message list for the open
// conversation and drives send, retry and reconciliation.
//
// Concurrency discipline: a single loop goroutine owns every mutation of
// the message list, the typing set and the receipt buffer. The public API
// and all network completions marshal onto that loop through the command
// channel; network calls themselves run as independent goroutines and never
// touch shared state directly.
type Coordinator struct {
	userID   string
	db       *store.DB
	queue    *outbox.Queue
	api      remote.API
	bus      *bus.Bus
	notifier notify.Notifier
	reporter connReporter
	logger   *zap.Logger
	opts     Options

	cmds   chan func()
	cancel context.CancelFunc
	done   chan struct{}

	// Everything below is owned by the loop goroutine.
	open            string
	messages        []*model.Message
	index           map[string]*model.Message // identity key -> message
	byLocal         map[string]*model.Message // local id -> message
	inFlight        map[string]bool           // local ids with an attempt in flight
	typing          map[string]model.TypingIndicator
	pendingReceipts map[string][]realtime.ReceiptEvent
	replayQueues    map[string][]store.OutboxEntry // conversation id -> queued replays
	replayActive    map[string]bool
	lastTypingSent  time.Time
}

// NewCoordinator creates a coordinator for the given user.
func NewCoordinator(userID string, db *store.DB, queue *outbox.Queue, api remote.API, b *bus.Bus, notifier notify.Notifier, reporter connReporter, opts Options, logger *zap.Logger) *Coordinator {
	if opts.FetchWindow <= 0 {
		opts = DefaultOptions()
	}
	return &Coordinator{
		userID:          userID,
		db:              db,
		queue:           queue,
		api:             api,
		bus:             b,
		notifier:        notifier,
		reporter:        reporter,
		logger:          logger,
		opts:            opts,
		cmds:            make(chan func(), 128),
		index:           make(map[string]*model.Message),
		byLocal:         make(map[string]*model.Message),
		inFlight:        make(map[string]bool),
		typing:          make(map[string]model.TypingIndicator),
		pendingReceipts: make(map[string][]realtime.ReceiptEvent),
		replayQueues:    make(map[string][]store.OutboxEntry),
		replayActive:    make(map[string]bool),
	}
}

// Start runs the coordinator loop. It subscribes to realtime and
// connectivity events and owns them until Stop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	events, unsub := c.bus.Subscribe("rt.", 256)
	net, unsubNet := c.bus.Subscribe("net.", 16)

	go func() {
		defer close(c.done)
		defer unsub()
		defer unsubNet()

		sweep := time.NewTicker(c.opts.SweepInterval)
		defer sweep.Stop()

		for {
			select {
			case cmd := <-c.cmds:
				cmd()
			case evt := <-events:
				c.handleRealtime(ctx, evt)
			case evt := <-net:
				if evt.Kind == bus.NetOnline && c.open != "" {
					// The push channel may have gapped during the
					// outage; reconcile rather than trust it.
					c.fetchAndReconcile(ctx, c.open)
				}
			case <-sweep.C:
				c.sweepTyping(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the loop.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// post marshals fn onto the loop goroutine.
func (c *Coordinator) post(fn func()) {
	c.cmds <- fn
}

// call runs fn on the loop and waits for it to finish.
func (c *Coordinator) call(fn func()) {
	donec := make(chan struct{})
	c.post(func() {
		fn()
		close(donec)
	})
	<-donec
}

// Open makes conversationID the active conversation: the cached window is
// painted immediately, open outbox entries resurface as Sending/Failed, and
// an authoritative fetch reconciles in the background.
func (c *Coordinator) Open(ctx context.Context, conversationID string) {
	c.call(func() {
		c.open = conversationID
		c.typing = make(map[string]model.TypingIndicator)
		c.loadFromCache(conversationID)
		c.publishUpserted(conversationID)
	})
	c.post(func() { c.fetchAndReconcile(ctx, conversationID) })
}

// Close leaves the active conversation. The realtime subscription and the
// outbox flusher outlive it.
func (c *Coordinator) Close() {
	c.call(func() {
		c.open = ""
		c.messages = nil
		c.index = make(map[string]*model.Message)
		c.byLocal = make(map[string]*model.Message)
		c.typing = make(map[string]model.TypingIndicator)
		c.pendingReceipts = make(map[string][]realtime.ReceiptEvent)
	})
}

// Messages returns a snapshot of the ordered list for the open conversation.
func (c *Coordinator) Messages() []model.Message {
	var out []model.Message
	c.call(func() {
		out = make([]model.Message, len(c.messages))
		for i, m := range c.messages {
			out[i] = *m
		}
	})
	return out
}

// TypingUsers returns the users currently typing in the open conversation.
func (c *Coordinator) TypingUsers() []string {
	var out []string
	c.call(func() {
		for user := range c.typing {
			out = append(out, user)
		}
	})
	return out
}

// Send creates an optimistic message and attempts the remote create.
// Validation failures are returned immediately and nothing is enqueued;
// every other failure surfaces as the Failed state, never as an error.
// Returns the local id assigned to the message.
func (c *Coordinator) Send(ctx context.Context, conversationID, content, mediaURL, msgType string) (string, error) {
	if content == "" && mediaURL == "" {
		return "", &remote.ValidationError{Reason: "empty message"}
	}
	if msgType == "" {
		msgType = "text"
	}

	localID := uuid.NewString()
	now := time.Now()

	c.call(func() {
		msg := &model.Message{
			ID:             model.NewLocalID(localID),
			ConversationID: conversationID,
			SenderID:       c.userID,
			Content:        content,
			MediaURL:       mediaURL,
			Type:           msgType,
			State:          model.Draft,
			CreatedAt:      now,
		}
		_ = msg.Transition(model.Sending)

		if conversationID == c.open {
			c.insertSorted(msg)
		}

		// Durable before the wire: a crash mid-send must not lose the
		// message.
		_ = c.db.UpsertMessage(store.FromModel(msg))
		if err := c.queue.Enqueue(&store.OutboxEntry{
			LocalID:        localID,
			ConversationID: conversationID,
			SenderID:       c.userID,
			Content:        content,
			MediaURL:       mediaURL,
			MessageType:    msgType,
			CreatedAt:      now.UnixMilli(),
		}); err != nil {
			c.logger.Error("failed to enqueue outbox entry", zap.Error(err), zap.String("local_id", localID))
		}

		c.publishUpserted(conversationID)
		c.attemptSend(ctx, conversationID, localID, content, mediaURL, msgType, nil)
	})

	return localID, nil
}

// Retry replays a Failed entry through the same send path. At most one
// attempt per local id is ever in flight.
func (c *Coordinator) Retry(ctx context.Context, localID string) {
	c.post(func() {
		entry, err := c.db.GetOutbox(localID)
		if err != nil || entry == nil {
			c.logger.Warn("retry for unknown outbox entry", zap.String("local_id", localID), zap.Error(err))
			return
		}
		if msg, ok := c.byLocal[localID]; ok && msg.State == model.Failed {
			_ = msg.Transition(model.Sending)
			_ = c.db.UpsertMessage(store.FromModel(msg))
			c.publishUpserted(entry.ConversationID)
		}
		c.attemptSend(ctx, entry.ConversationID, entry.LocalID, entry.Content, entry.MediaURL, entry.MessageType, nil)
	})
}

// Replay is the outbox flusher's entry point. Entries for the same
// conversation replay strictly one at a time, in arrival order, so the server
// receives and timestamps them in creation order.
func (c *Coordinator) Replay(ctx context.Context, entry store.OutboxEntry) {
	c.post(func() {
		c.replayQueues[entry.ConversationID] = append(c.replayQueues[entry.ConversationID], entry)
		if !c.replayActive[entry.ConversationID] {
			c.advanceReplay(ctx, entry.ConversationID)
		}
	})
}

// advanceReplay starts the next queued replay for conversationID. Runs on the
// loop; the chained completion keeps at most one replay per conversation in
// flight.
func (c *Coordinator) advanceReplay(ctx context.Context, conversationID string) {
	queue := c.replayQueues[conversationID]
	if len(queue) == 0 {
		delete(c.replayQueues, conversationID)
		delete(c.replayActive, conversationID)
		return
	}
	entry := queue[0]
	c.replayQueues[conversationID] = queue[1:]
	c.replayActive[conversationID] = true

	if msg, ok := c.byLocal[entry.LocalID]; ok && msg.State == model.Failed {
		_ = msg.Transition(model.Sending)
		c.publishUpserted(entry.ConversationID)
	}
	c.attemptSend(ctx, entry.ConversationID, entry.LocalID, entry.Content, entry.MediaURL, entry.MessageType, func() {
		c.advanceReplay(ctx, conversationID)
	})
}

// MarkRead records that this user read the message and tells the server.
func (c *Coordinator) MarkRead(ctx context.Context, serverID string) {
	c.post(func() {
		now := time.Now()
		if msg, ok := c.index[serverID]; ok {
			if msg.AddReceipt(c.userID, now) {
				_ = c.db.AddReceipt(serverID, c.userID, now.UnixMilli())
			}
		}
		go func() {
			if err := c.api.MarkRead(ctx, serverID, c.userID); err != nil {
				c.logger.Warn("mark read failed", zap.Error(err), zap.String("server_id", serverID))
				c.observe(err)
			}
		}()
	})
}

// NotifyTyping refreshes this user's typing indicator remotely, throttled to
// one upsert per two seconds.
func (c *Coordinator) NotifyTyping(ctx context.Context, conversationID string) {
	c.post(func() {
		now := time.Now()
		if now.Sub(c.lastTypingSent) < 2*time.Second {
			return
		}
		c.lastTypingSent = now
		go func() {
			if err := c.api.UpsertTyping(ctx, conversationID, c.userID); err != nil {
				c.logger.Warn("typing upsert failed", zap.Error(err))
			}
		}()
	})
}

// --- loop-owned internals ---

// attemptSend starts one remote create for localID unless one is already in
// flight. Runs on the loop; the network call runs off it. done, when set, is
// invoked on the loop after the completion is handled, or immediately when
// the attempt is skipped.
func (c *Coordinator) attemptSend(ctx context.Context, conversationID, localID, content, mediaURL, msgType string, done func()) {
	if c.inFlight[localID] {
		if done != nil {
			done()
		}
		return
	}
	c.inFlight[localID] = true

	req := remote.CreateMessageRequest{
		ConversationID: conversationID,
		SenderID:       c.userID,
		Content:        content,
		MediaURL:       mediaURL,
		Type:           msgType,
	}
	go func() {
		wire, err := c.api.CreateMessage(ctx, localID, req)
		c.post(func() {
			delete(c.inFlight, localID)
			if err != nil {
				c.handleSendFailure(conversationID, localID, err)
			} else {
				c.handleSendSuccess(conversationID, localID, wire)
			}
			if done != nil {
				done()
			}
		})
	}()
}

func (c *Coordinator) handleSendSuccess(conversationID, localID string, wire *remote.WireMessage) {
	if c.reporter != nil {
		c.reporter.Report(true)
	}
	c.confirmLocal(conversationID, localID, wire)

	if err := c.queue.Remove(localID); err != nil {
		c.logger.Error("failed to remove confirmed outbox entry", zap.Error(err), zap.String("local_id", localID))
	}

	c.logger.Info("message sent",
		zap.String("local_id", localID),
		zap.String("server_id", wire.ServerID))
	c.bus.Publish(bus.Event{
		Kind:      bus.MessageSendAck,
		Timestamp: time.Now(),
		Payload:   map[string]string{"local_id": localID, "server_id": wire.ServerID},
	})
	c.publishUpserted(conversationID)
}

func (c *Coordinator) handleSendFailure(conversationID, localID string, sendErr error) {
	switch {
	case remote.IsTransient(sendErr):
		if c.reporter != nil {
			c.reporter.Report(false)
		}
		exhausted, err := c.queue.MarkFailure(localID, sendErr)
		if err != nil {
			c.logger.Error("failed to record send failure", zap.Error(err), zap.String("local_id", localID))
		}
		c.failLocal(conversationID, localID)
		if exhausted {
			c.logger.Warn("message needs manual retry", zap.String("local_id", localID))
		}
	case remote.IsAuth(sendErr):
		// Surfaced, never silently retried: park the entry past the
		// auto-retry ceiling so only an explicit Retry touches it.
		if err := c.queue.Retain(localID, sendErr); err != nil {
			c.logger.Error("failed to retain outbox entry", zap.Error(err), zap.String("local_id", localID))
		}
		c.failLocal(conversationID, localID)
		c.logger.Error("send rejected: authentication required", zap.String("local_id", localID))
	case remote.IsRejected(sendErr) || remote.IsValidation(sendErr):
		// Deterministic rejection (e.g. duplicate create). Drop from
		// the outbox; reconciliation supplies the canonical copy if
		// one exists.
		if err := c.queue.Remove(localID); err != nil {
			c.logger.Error("failed to drop rejected outbox entry", zap.Error(err), zap.String("local_id", localID))
		}
		c.logger.Warn("send rejected by server, dropped from outbox",
			zap.String("local_id", localID), zap.Error(sendErr))
	default:
		if _, err := c.queue.MarkFailure(localID, sendErr); err != nil {
			c.logger.Error("failed to record send failure", zap.Error(err), zap.String("local_id", localID))
		}
		c.failLocal(conversationID, localID)
	}

	c.bus.Publish(bus.Event{
		Kind:      bus.MessageSendFailed,
		Timestamp: time.Now(),
		Payload:   map[string]string{"local_id": localID, "error": sendErr.Error()},
	})
}

// failLocal transitions the in-memory entry to Failed and persists the
// state so the affordance survives restart.
func (c *Coordinator) failLocal(conversationID, localID string) {
	if msg, ok := c.byLocal[localID]; ok && msg.State == model.Sending {
		_ = msg.Transition(model.Failed)
		_ = c.db.UpsertMessage(store.FromModel(msg))
	}
	c.publishUpserted(conversationID)
}

// confirmLocal replaces the optimistic entry (matched by local id) in place
// with the server-confirmed record, then applies any receipts that were
// waiting for the server id.
func (c *Coordinator) confirmLocal(conversationID, localID string, wire *remote.WireMessage) {
	_ = c.db.ConfirmMessage(conversationID, localID, wire.ServerID, wire.CreatedAt)
	_ = c.db.TouchConversation(conversationID, preview(wire.Content, wire.MediaURL), wire.CreatedAt)

	msg, ok := c.byLocal[localID]
	if !ok {
		// Conversation is not open (or the echo already replaced it);
		// durable state is updated, nothing in memory to patch.
		c.applyBufferedReceipts(wire.ServerID)
		return
	}

	confirmed, err := msg.ID.Confirm(wire.ServerID)
	if err != nil {
		c.logger.Warn("conflicting confirmation", zap.Error(err))
		return
	}
	delete(c.index, msg.ID.Key())
	msg.ID = confirmed
	msg.CreatedAt = time.UnixMilli(wire.CreatedAt)
	if msg.State == model.Sending {
		_ = msg.Transition(model.Sent)
	} else {
		msg.State = model.Sent
	}
	c.index[msg.ID.Key()] = msg
	SortMessages(c.messages)

	c.applyBufferedReceipts(wire.ServerID)
}

// handleRealtime dispatches one inbound push event. Duplicates are expected;
// every path here is idempotent.
func (c *Coordinator) handleRealtime(ctx context.Context, evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case realtime.MessageEvent:
		c.handleRealtimeMessage(payload.Message)
	case realtime.ReceiptEvent:
		c.handleReceipt(payload)
	case realtime.TypingEvent:
		c.handleTyping(payload)
	case realtime.ConversationEvent:
		_ = c.db.UpsertConversation(&store.Conversation{ID: payload.ConversationID, Title: payload.Title})
	default:
		c.logger.Warn("unrecognized realtime payload", zap.String("kind", string(evt.Kind)))
	}
}

func (c *Coordinator) handleRealtimeMessage(wire remote.WireMessage) {
	ownEcho := wire.LocalID != "" && wire.SenderID == c.userID

	// Persist first: UpsertRemoteMessage collapses the optimistic row when
	// this is our own echo, so the store never holds two rows.
	row := wireToRow(wire)
	if ownEcho {
		row.State = string(model.Sent)
	}
	if err := c.db.UpsertRemoteMessage(row); err != nil {
		c.logger.Error("failed to ingest realtime message", zap.Error(err), zap.String("server_id", wire.ServerID))
		return
	}
	_ = c.db.TouchConversation(wire.ConversationID, preview(wire.Content, wire.MediaURL), wire.CreatedAt)

	if ownEcho {
		// The echo proves the create landed even if the HTTP response is
		// still in flight or was lost.
		if err := c.queue.Remove(wire.LocalID); err != nil {
			c.logger.Error("failed to remove echoed outbox entry", zap.Error(err), zap.String("local_id", wire.LocalID))
		}
	}

	if wire.ConversationID == c.open {
		c.mergeRealtimeMessage(wire, ownEcho)
		c.publishUpserted(wire.ConversationID)
	} else if !ownEcho && wire.SenderID != c.userID {
		title := wire.ConversationID
		if conv, err := c.db.GetConversation(wire.ConversationID); err == nil && conv != nil && conv.Title != "" {
			title = conv.Title
		}
		c.notifier.Notify(wire.ConversationID, title, preview(wire.Content, wire.MediaURL))
		c.publishUpserted(wire.ConversationID)
	}
}

// mergeRealtimeMessage applies the new_message rules to the open list:
// replace own echo in place, drop known server ids, otherwise insert at the
// sorted position.
func (c *Coordinator) mergeRealtimeMessage(wire remote.WireMessage, ownEcho bool) {
	if msg, ok := c.byLocal[wire.LocalID]; ownEcho && ok && !msg.ID.Confirmed() {
		c.confirmInMemory(msg, wire)
		c.applyBufferedReceipts(wire.ServerID)
		return
	}

	if existing, ok := c.index[wire.ServerID]; ok {
		// Duplicate delivery; pick up edits/tombstones, keep position.
		existing.Content = wire.Content
		if wire.DeletedAt > 0 {
			existing.DeletedAt = time.UnixMilli(wire.DeletedAt)
		}
		return
	}

	msg := wireToModel(wire)
	if ownEcho {
		msg.State = model.Sent
	}
	c.insertSorted(msg)
	c.applyBufferedReceipts(wire.ServerID)
}

func (c *Coordinator) confirmInMemory(msg *model.Message, wire remote.WireMessage) {
	confirmed, err := msg.ID.Confirm(wire.ServerID)
	if err != nil {
		c.logger.Warn("conflicting echo confirmation", zap.Error(err))
		return
	}
	delete(c.index, msg.ID.Key())
	msg.ID = confirmed
	msg.CreatedAt = time.UnixMilli(wire.CreatedAt)
	msg.State = model.Sent
	c.index[msg.ID.Key()] = msg
	SortMessages(c.messages)
}

// maxBufferedReceipts caps how many distinct message ids the in-memory
// receipt buffer may hold at once.
const maxBufferedReceipts = 256

// handleReceipt applies a read receipt idempotently. Receipts for messages
// whose server id is not yet known locally are buffered and replayed once
// the id is assigned; the durable insert is unconditional because the
// receipts table is independent of message arrival.
func (c *Coordinator) handleReceipt(evt realtime.ReceiptEvent) {
	readAt := evt.ReadAt
	if readAt == 0 {
		readAt = time.Now().UnixMilli()
	}
	_ = c.db.AddReceipt(evt.MessageID, evt.UserID, readAt)

	if evt.ConversationID != c.open {
		return
	}
	if msg, ok := c.index[evt.MessageID]; ok {
		if msg.AddReceipt(evt.UserID, time.UnixMilli(readAt)) {
			c.publishUpserted(evt.ConversationID)
		}
		return
	}
	// Likely our own message still in the Sending phase. The buffer is
	// bounded: past the cap the durable copy alone carries the receipt, and
	// it attaches whenever the message lands.
	if _, buffered := c.pendingReceipts[evt.MessageID]; !buffered && len(c.pendingReceipts) >= maxBufferedReceipts {
		return
	}
	c.pendingReceipts[evt.MessageID] = append(c.pendingReceipts[evt.MessageID], evt)
}

func (c *Coordinator) applyBufferedReceipts(serverID string) {
	buffered, ok := c.pendingReceipts[serverID]
	if !ok {
		return
	}
	delete(c.pendingReceipts, serverID)
	msg, ok := c.index[serverID]
	if !ok {
		return
	}
	for _, evt := range buffered {
		readAt := evt.ReadAt
		if readAt == 0 {
			readAt = time.Now().UnixMilli()
		}
		msg.AddReceipt(evt.UserID, time.UnixMilli(readAt))
	}
}

// handleTyping refreshes the active-typist set. A lost stop signal cannot
// stick: the sweep expires anything not refreshed within the TTL.
func (c *Coordinator) handleTyping(evt realtime.TypingEvent) {
	if evt.ConversationID != c.open || evt.UserID == c.userID {
		return
	}
	_, present := c.typing[evt.UserID]
	c.typing[evt.UserID] = model.TypingIndicator{
		ConversationID: evt.ConversationID,
		UserID:         evt.UserID,
		LastTyped:      time.Now(),
	}
	if !present {
		c.publishTyping()
	}
}

func (c *Coordinator) sweepTyping(now time.Time) {
	changed := false
	for user, ind := range c.typing {
		if ind.Expired(now, c.opts.TypingTTL) {
			delete(c.typing, user)
			changed = true
		}
	}
	if changed {
		c.publishTyping()
	}
}

// fetchAndReconcile pulls an authoritative window and merges it with the
// in-memory list and open outbox entries. Runs on the loop; the fetch runs
// off it.
func (c *Coordinator) fetchAndReconcile(ctx context.Context, conversationID string) {
	go func() {
		wires, err := c.api.FetchMessages(ctx, conversationID, c.opts.FetchWindow, 0)
		if err != nil {
			c.logger.Warn("reconcile fetch failed", zap.Error(err), zap.String("conversation_id", conversationID))
			c.observe(err)
			return
		}
		if c.reporter != nil {
			c.reporter.Report(true)
		}
		c.post(func() { c.reconcile(conversationID, wires) })
	}()
}

func (c *Coordinator) reconcile(conversationID string, wires []remote.WireMessage) {
	server := make([]*model.Message, 0, len(wires))
	for _, wire := range wires {
		row := wireToRow(wire)
		if wire.SenderID == c.userID {
			// Own messages in the server window were confirmed; Sent is
			// terminal and must not regress to Received in the store.
			row.State = string(model.Sent)
		}
		if err := c.db.UpsertRemoteMessage(row); err != nil {
			c.logger.Error("failed to persist fetched message", zap.Error(err), zap.String("server_id", wire.ServerID))
		}
		m := wireToModel(wire)
		if m.SenderID == c.userID {
			m.State = model.Sent
		}
		server = append(server, m)
	}

	if conversationID != c.open {
		return
	}

	pending, err := c.queue.Pending(conversationID)
	if err != nil {
		c.logger.Error("failed to read pending outbox", zap.Error(err))
	}

	merged := Merge(server, c.messages, pending)
	c.rebuild(merged)
	c.attachReceipts(conversationID)
	for serverID := range c.pendingReceipts {
		if _, ok := c.index[serverID]; ok {
			c.applyBufferedReceipts(serverID)
		}
	}
	c.publishUpserted(conversationID)
}

// loadFromCache paints the conversation from the local store and overlays
// open outbox entries, before any network round trip.
func (c *Coordinator) loadFromCache(conversationID string) {
	rows, err := c.db.ListMessages(conversationID, 0, c.opts.FetchWindow)
	if err != nil {
		c.logger.Error("failed to load cached messages", zap.Error(err))
	}
	local := make([]*model.Message, 0, len(rows))
	for _, row := range rows {
		local = append(local, row.ToModel())
	}

	pending, err := c.queue.Pending(conversationID)
	if err != nil {
		c.logger.Error("failed to read pending outbox", zap.Error(err))
	}

	c.rebuild(Merge(nil, local, pending))
	c.attachReceipts(conversationID)
}

// rebuild swaps in a merged list and reindexes it.
func (c *Coordinator) rebuild(merged []*model.Message) {
	c.messages = merged
	c.index = make(map[string]*model.Message, len(merged))
	c.byLocal = make(map[string]*model.Message)
	for _, m := range merged {
		c.index[m.ID.Key()] = m
		if m.ID.LocalID != "" {
			c.byLocal[m.ID.LocalID] = m
		}
	}
}

func (c *Coordinator) attachReceipts(conversationID string) {
	receipts, err := c.db.ListReceipts(conversationID)
	if err != nil {
		c.logger.Error("failed to load receipts", zap.Error(err))
		return
	}
	for serverID, rs := range receipts {
		msg, ok := c.index[serverID]
		if !ok {
			continue
		}
		for _, r := range rs {
			msg.AddReceipt(r.UserID, time.UnixMilli(r.ReadAt))
		}
	}
}

// insertSorted places msg at its ordered position and indexes it.
func (c *Coordinator) insertSorted(msg *model.Message) {
	c.messages = append(c.messages, msg)
	SortMessages(c.messages)
	c.index[msg.ID.Key()] = msg
	if msg.ID.LocalID != "" {
		c.byLocal[msg.ID.LocalID] = msg
	}
}

func (c *Coordinator) publishUpserted(conversationID string) {
	c.bus.Publish(bus.Event{
		Kind:      bus.MessageUpserted,
		Timestamp: time.Now(),
		Payload:   map[string]string{"conversation_id": conversationID},
	})
}

func (c *Coordinator) publishTyping() {
	users := make([]string, 0, len(c.typing))
	for user := range c.typing {
		users = append(users, user)
	}
	c.bus.Publish(bus.Event{
		Kind:      bus.TypingChanged,
		Timestamp: time.Now(),
		Payload:   users,
	})
}

// observe feeds transport outcomes into the reachability monitor.
func (c *Coordinator) observe(err error) {
	if c.reporter != nil && remote.IsTransient(err) {
		c.reporter.Report(false)
	}
}

func wireToRow(wire remote.WireMessage) *store.Message {
	return &store.Message{
		ConversationID: wire.ConversationID,
		Key:            wire.ServerID,
		ServerID:       wire.ServerID,
		LocalID:        wire.LocalID,
		SenderID:       wire.SenderID,
		Content:        wire.Content,
		MediaURL:       wire.MediaURL,
		MessageType:    wire.Type,
		State:          string(model.Received),
		CreatedAt:      wire.CreatedAt,
		UpdatedAt:      wire.UpdatedAt,
		DeletedAt:      wire.DeletedAt,
	}
}

func wireToModel(wire remote.WireMessage) *model.Message {
	msg := &model.Message{
		ID:             model.NewRemoteID(wire.ServerID, wire.LocalID),
		ConversationID: wire.ConversationID,
		SenderID:       wire.SenderID,
		Content:        wire.Content,
		MediaURL:       wire.MediaURL,
		Type:           wire.Type,
		State:          model.Received,
		CreatedAt:      time.UnixMilli(wire.CreatedAt),
	}
	if wire.UpdatedAt > 0 {
		msg.UpdatedAt = time.UnixMilli(wire.UpdatedAt)
	}
	if wire.DeletedAt > 0 {
		msg.DeletedAt = time.UnixMilli(wire.DeletedAt)
	}
	return msg
}

func preview(content, mediaURL string) string {
	if content != "" {
		// Truncate on a rune boundary so multi-byte characters survive.
		runes := []rune(content)
		if len(runes) > 100 {
			return string(runes[:100])
		}
		return content
	}
	if mediaURL != "" {
		return "[media]"
	}
	return ""
}
