package chatclient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"carelink/internal/domain/entity"
	"carelink/pkg/errors"
	"carelink/pkg/logger"
	"carelink/pkg/protocol"
	"carelink/pkg/utils"
)

const (
	DefaultSendTimeout      = 15 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultMinBackoff       = time.Second
	DefaultMaxBackoff       = 30 * time.Second
)

// Config tunes the engine. Zero values take the defaults above.
type Config struct {
	SendTimeout      time.Duration
	HandshakeTimeout time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	TypingExpiry     time.Duration
	HistoryPageSize  int
	Now              func() time.Time
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = DefaultMaxBackoff
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = DefaultTypingExpiry
	}
	c.HistoryPageSize = utils.ClampLimit(c.HistoryPageSize)
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

var errStopped = errors.FailedPrecondition("chat engine is not running", nil)

type conversation struct {
	info  *entity.Conversation
	state *ConversationState
	open  bool
	// generation changes on every open; network results carrying an older
	// one are stale.
	generation uint64
	joined     bool
	// caughtUp is the server time through which the list is complete. Only
	// history pages and live frames on a synced subscription advance it; HTTP
	// send replies and list updates do not.
	caughtUp time.Time
	// synced is set once a catch-up started on the current socket has merged.
	synced bool
}

// Engine keeps one participant's conversations in sync. All state lives on
// the goroutine started by Run; the exported methods hand work to it.
type Engine struct {
	self   entity.Identity
	cfg    Config
	dialer Dialer
	api    Fallback

	ops     chan func()
	changes chan string
	done    chan struct{}
	ctx     context.Context

	// Owned by the loop.
	conn       RealtimeConn
	convs      map[string]*conversation
	typing     *TypingTracker
	unread     *UnreadTracker
	online     map[string]bool
	timers     map[string]*time.Timer
	attempts   map[string]int
	generation uint64
	// epoch counts sockets; a catch-up only marks a conversation synced on
	// the socket it started on.
	epoch uint64
}

func NewEngine(self entity.Identity, dialer Dialer, api Fallback, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		self:     self,
		cfg:      cfg,
		dialer:   dialer,
		api:      api,
		ops:      make(chan func(), 256),
		changes:  make(chan string, 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		convs:    make(map[string]*conversation),
		typing:   NewTypingTracker(cfg.TypingExpiry),
		unread:   NewUnreadTracker(),
		online:   make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		attempts: make(map[string]int),
	}
}

// Changes yields the id of a conversation whose rendering changed, or "" for
// connection and unread changes. Notifications are dropped when nobody
// reads.
func (e *Engine) Changes() <-chan string {
	return e.changes
}

// Run owns the engine state until ctx is done. It must be called exactly
// once.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctx = ctx

	if e.dialer != nil {
		go e.connectLoop(ctx)
	}

	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case op := <-e.ops:
			op()
		}
	}
}

func (e *Engine) shutdown() {
	for tempID, timer := range e.timers {
		timer.Stop()
		delete(e.timers, tempID)
	}
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// post queues fn on the loop without waiting. Safe from any goroutine except
// the loop itself.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		fn()
		close(finished)
	}

	select {
	case e.ops <- op:
	case <-e.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-e.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) notify(conversationID string) {
	select {
	case e.changes <- conversationID:
	default:
	}
}

func (e *Engine) connectLoop(ctx context.Context) {
	backoff := e.cfg.MinBackoff

	for {
		conn, err := e.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errors.CodeUnauthenticated) {
				logger.Error("Realtime credential rejected, staying on HTTP fallback: %v", err)
				return
			}

			logger.Warn("Realtime connect failed, retrying in %s: %v", backoff, err)
			if !sleepContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, e.cfg.MaxBackoff)
			continue
		}

		backoff = e.cfg.MinBackoff
		e.post(func() { e.onConnected(conn) })

		for env := range conn.Events() {
			env := env
			e.post(func() { e.handleEvent(conn, env) })
		}

		e.post(func() { e.onDisconnected(conn) })
		if !sleepContext(ctx, backoff) {
			return
		}
	}
}

func (e *Engine) dial(ctx context.Context) (RealtimeConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.HandshakeTimeout)
	defer cancel()
	return e.dialer.Dial(dialCtx)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) onConnected(conn RealtimeConn) {
	if e.conn != nil {
		e.conn.Close()
	}
	e.conn = conn
	e.epoch++
	logger.Info("Realtime connected as %s", e.self.ParticipantID)

	for _, c := range e.convs {
		c.joined = false
		c.synced = false
		if c.open {
			e.join(c)
		}
	}

	e.gapFillAll()
	e.notify("")
}

func (e *Engine) onDisconnected(conn RealtimeConn) {
	if e.conn != conn {
		return
	}
	e.conn = nil
	for _, c := range e.convs {
		c.joined = false
		c.synced = false
	}
	logger.Warn("Realtime disconnected, using HTTP fallback")
	e.notify("")
}

func (e *Engine) join(c *conversation) {
	if e.conn == nil {
		return
	}
	if err := e.conn.Send(protocol.TypeJoin, c.state.ConversationID, nil); err != nil {
		logger.Warn("Join %s failed: %v", c.state.ConversationID, err)
		return
	}
	c.joined = true
}

func (e *Engine) conversation(conversationID string) *conversation {
	c, ok := e.convs[conversationID]
	if !ok {
		c = &conversation{state: NewConversationState(conversationID, e.self.ParticipantID)}
		e.convs[conversationID] = c
	}
	return c
}

// gapFill describes one history catch-up started on the loop.
type gapFill struct {
	conversationID string
	generation     uint64
	epoch          uint64
	since          time.Time
}

// gapFillFor pages from the caught-up cursor, which is zero until a first
// history load has merged.
func (e *Engine) gapFillFor(c *conversation) gapFill {
	return gapFill{
		conversationID: c.state.ConversationID,
		generation:     c.generation,
		epoch:          e.epoch,
		since:          c.caughtUp,
	}
}

// gapFillAll catches every open conversation up in parallel, then rebuilds
// the unread counters from the server.
func (e *Engine) gapFillAll() {
	var fills []gapFill
	for _, c := range e.convs {
		if c.open {
			fills = append(fills, e.gapFillFor(c))
		}
	}

	ctx := e.ctx
	go func() {
		var g errgroup.Group
		for _, fill := range fills {
			fill := fill
			g.Go(func() error {
				msgs, err := e.fetchSince(ctx, fill.conversationID, fill.since)
				e.post(func() { e.mergeHistory(fill, msgs, err) })
				return err
			})
		}
		if err := g.Wait(); err != nil {
			logger.Warn("Gap-fill incomplete: %v", err)
		}

		summary, err := e.api.UnreadSummary(ctx)
		if err != nil {
			logger.Warn("Unread recompute failed: %v", err)
			return
		}
		e.post(func() {
			e.unread.Recompute(summary)
			e.notify("")
		})
	}()
}

func (e *Engine) loadHistory(c *conversation) {
	fill := e.gapFillFor(c)
	ctx := e.ctx
	go func() {
		msgs, err := e.fetchSince(ctx, fill.conversationID, fill.since)
		e.post(func() { e.mergeHistory(fill, msgs, err) })
	}()
}

// fetchSince pages forward from since until a short page.
func (e *Engine) fetchSince(ctx context.Context, conversationID string, since time.Time) ([]*entity.Message, error) {
	cursor := utils.FormatCursor(since)
	limit := e.cfg.HistoryPageSize

	var all []*entity.Message
	for {
		page, err := e.api.History(ctx, conversationID, cursor, limit)
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)

		if len(page.Items) < limit {
			return all, nil
		}
		next := page.NextCursor
		if next == "" {
			next = utils.FormatCursor(page.Items[len(page.Items)-1].CreatedAt)
		}
		if next == cursor {
			return all, nil
		}
		cursor = next
	}
}

func (e *Engine) mergeHistory(fill gapFill, msgs []*entity.Message, err error) {
	c, ok := e.convs[fill.conversationID]
	if !ok || !c.open || c.generation != fill.generation {
		logger.Debug("Discarding stale history for %s", fill.conversationID)
		return
	}

	for _, msg := range msgs {
		if entry, _ := c.state.Reconcile(msg); entry != nil {
			e.settle(entry.Message.ClientTempID)
		}
		// Pages are contiguous from fill.since, and fill.since never runs
		// ahead of caughtUp, so even a partial result is gap free.
		if msg.CreatedAt.After(c.caughtUp) {
			c.caughtUp = msg.CreatedAt
		}
	}
	if err != nil {
		logger.Warn("History for %s failed: %v", fill.conversationID, err)
	} else {
		c.state.HistoryLoaded = true
		if c.joined && fill.epoch == e.epoch {
			c.synced = true
		}
	}
	e.notify(fill.conversationID)
}

// Open subscribes to a conversation and loads its history.
func (e *Engine) Open(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	conv, err := e.api.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv, e.call(ctx, func() { e.open(conv) })
}

func (e *Engine) OpenDirect(ctx context.Context, participantID string) (*entity.Conversation, error) {
	conv, err := e.api.OpenDirect(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return conv, e.call(ctx, func() { e.open(conv) })
}

func (e *Engine) OpenAppointment(ctx context.Context, appointmentID string) (*entity.Conversation, error) {
	conv, err := e.api.OpenAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return conv, e.call(ctx, func() { e.open(conv) })
}

func (e *Engine) open(conv *entity.Conversation) {
	c := e.conversation(conv.ID)
	c.info = conv
	c.open = true
	c.synced = false
	e.generation++
	c.generation = e.generation

	if !c.joined {
		e.join(c)
	}
	e.loadHistory(c)
	e.notify(conv.ID)
}

// Close unsubscribes. The local list is kept, and sends already in flight
// still land in it.
func (e *Engine) Close(ctx context.Context, conversationID string) error {
	return e.call(ctx, func() {
		c, ok := e.convs[conversationID]
		if !ok || !c.open {
			return
		}
		c.open = false
		if c.joined && e.conn != nil {
			if err := e.conn.Send(protocol.TypeLeave, conversationID, nil); err != nil {
				logger.Warn("Leave %s failed: %v", conversationID, err)
			}
		}
		c.joined = false
		c.synced = false
		e.notify(conversationID)
	})
}

// Send shows body immediately as pending and delivers it. The returned temp
// id identifies the entry for Retry.
func (e *Engine) Send(ctx context.Context, conversationID, body string) (string, error) {
	tempID := uuid.NewString()
	err := e.call(ctx, func() {
		c := e.conversation(conversationID)
		c.state.AddPending(entity.Message{
			SenderID:     e.self.ParticipantID,
			SenderRole:   e.self.Role,
			Kind:         entity.MessageText,
			Body:         body,
			ClientTempID: tempID,
		}, e.cfg.Now())
		e.deliver(c, tempID)
		e.notify(conversationID)
	})
	if err != nil {
		return "", err
	}
	return tempID, nil
}

// Retry resends a failed entry under its original temp id.
func (e *Engine) Retry(ctx context.Context, conversationID, tempID string) error {
	var retryErr error
	err := e.call(ctx, func() {
		c, ok := e.convs[conversationID]
		if !ok {
			retryErr = errors.NotFound("Conversation", nil)
			return
		}
		if _, ok := c.state.MarkPending(tempID, e.cfg.Now()); !ok {
			retryErr = errors.FailedPrecondition("only failed messages can be retried", nil)
			return
		}
		e.deliver(c, tempID)
		e.notify(conversationID)
	})
	if err != nil {
		return err
	}
	return retryErr
}

func (e *Engine) deliver(c *conversation, tempID string) {
	entry, ok := c.state.Entry(tempID)
	if !ok {
		return
	}
	conversationID := c.state.ConversationID

	e.stopTimer(tempID)
	e.attempts[tempID]++
	attempt := e.attempts[tempID]
	e.timers[tempID] = time.AfterFunc(e.cfg.SendTimeout, func() {
		e.post(func() { e.sendTimedOut(conversationID, tempID, attempt) })
	})

	req := protocol.SendData{
		ClientTempID: tempID,
		Kind:         entry.Message.Kind,
		Body:         entry.Message.Body,
	}

	if e.conn != nil && c.joined {
		err := e.conn.Send(protocol.TypeSend, conversationID, req)
		if err == nil {
			return
		}
		logger.Warn("Realtime send failed, using HTTP fallback: %v", err)
	}

	ctx, timeout := e.ctx, e.cfg.SendTimeout
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		msg, err := e.api.Append(ctx, conversationID, req)
		e.post(func() { e.sendResult(conversationID, tempID, attempt, msg, err) })
	}()
}

// sendResult applies an HTTP append outcome. A failure from an attempt that
// has since been retried is ignored; a success always reconciles.
func (e *Engine) sendResult(conversationID, tempID string, attempt int, msg *entity.Message, err error) {
	c := e.conversation(conversationID)
	if err != nil {
		if e.attempts[tempID] != attempt {
			return
		}
		e.stopTimer(tempID)
		logger.LogSendFailure(conversationID, tempID, err)
		if c.state.MarkFailed(tempID, errors.CodeOf(err)) {
			e.notify(conversationID)
		}
		return
	}

	if entry, _ := c.state.Reconcile(msg); entry != nil {
		e.settle(entry.Message.ClientTempID)
	}
	e.notify(conversationID)
}

func (e *Engine) sendTimedOut(conversationID, tempID string, attempt int) {
	if e.attempts[tempID] != attempt {
		return
	}
	delete(e.timers, tempID)
	c, ok := e.convs[conversationID]
	if !ok {
		return
	}
	if c.state.MarkFailed(tempID, errors.CodeTransient) {
		logger.Warn("Send %s in %s timed out", tempID, conversationID)
		e.notify(conversationID)
	}
}

func (e *Engine) stopTimer(tempID string) {
	if timer, ok := e.timers[tempID]; ok {
		timer.Stop()
		delete(e.timers, tempID)
	}
}

// settle forgets a send once the server has confirmed it.
func (e *Engine) settle(tempID string) {
	if tempID == "" {
		return
	}
	e.stopTimer(tempID)
	delete(e.attempts, tempID)
}

// MarkRead marks everything held for the conversation as read.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	return e.call(ctx, func() {
		c, ok := e.convs[conversationID]
		if !ok {
			return
		}
		latest := c.state.LatestConfirmed()
		if latest == nil {
			return
		}

		e.unread.Clear(conversationID)
		e.notify("")

		if e.conn != nil && c.joined {
			err := e.conn.Send(protocol.TypeMarkRead, conversationID, protocol.MarkReadData{MessageID: latest.ID})
			if err == nil {
				return
			}
		}

		ctx := e.ctx
		go func() {
			if _, err := e.api.MarkRead(ctx, conversationID, latest.ID); err != nil {
				logger.Warn("Mark read %s failed: %v", conversationID, err)
			}
		}()
	})
}

func (e *Engine) StartTyping(ctx context.Context, conversationID string) error {
	return e.sendTyping(ctx, conversationID, protocol.TypeTypingStart)
}

func (e *Engine) StopTyping(ctx context.Context, conversationID string) error {
	return e.sendTyping(ctx, conversationID, protocol.TypeTypingStop)
}

// Typing signals only travel over the socket; without one they are dropped.
func (e *Engine) sendTyping(ctx context.Context, conversationID, eventType string) error {
	return e.call(ctx, func() {
		c, ok := e.convs[conversationID]
		if !ok || !c.joined || e.conn == nil {
			return
		}
		if err := e.conn.Send(eventType, conversationID, nil); err != nil {
			logger.Debug("Typing signal for %s dropped: %v", conversationID, err)
		}
	})
}

// Snapshot returns the conversation's entries in render order.
func (e *Engine) Snapshot(ctx context.Context, conversationID string) ([]Entry, error) {
	var entries []Entry
	err := e.call(ctx, func() {
		if c, ok := e.convs[conversationID]; ok {
			entries = c.state.Entries()
		}
	})
	return entries, err
}

// Typing lists the other participants currently typing.
func (e *Engine) Typing(ctx context.Context, conversationID string) ([]string, error) {
	var typing []string
	err := e.call(ctx, func() {
		typing = e.typing.Typing(conversationID, e.cfg.Now())
	})
	return typing, err
}

func (e *Engine) UnreadTotal(ctx context.Context) (int, error) {
	var total int
	err := e.call(ctx, func() { total = e.unread.Total() })
	return total, err
}

func (e *Engine) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := e.call(ctx, func() { n = e.unread.Count(conversationID) })
	return n, err
}

func (e *Engine) Online(ctx context.Context, participantID string) (bool, error) {
	var online bool
	err := e.call(ctx, func() { online = e.online[participantID] })
	return online, err
}

func (e *Engine) Connected(ctx context.Context) (bool, error) {
	var connected bool
	err := e.call(ctx, func() { connected = e.conn != nil })
	return connected, err
}

func (e *Engine) handleEvent(conn RealtimeConn, env protocol.Envelope) {
	if conn != e.conn {
		return
	}

	var err error
	switch env.Type {
	case protocol.TypeJoined:
		var data protocol.JoinedData
		if err = env.DecodeData(&data); err == nil {
			e.onJoined(env.ConversationID, data)
		}
	case protocol.TypeMessageAppended:
		var data protocol.MessageAppendedData
		if err = env.DecodeData(&data); err == nil {
			e.onMessage(env.ConversationID, data.Message)
		}
	case protocol.TypeConversationUpdated:
		var data protocol.ConversationUpdatedData
		if err = env.DecodeData(&data); err == nil {
			e.onConversationUpdated(data)
		}
	case protocol.TypeTypingChanged:
		var data protocol.TypingChangedData
		if err = env.DecodeData(&data); err == nil && data.ParticipantID != e.self.ParticipantID {
			e.typing.Apply(env.ConversationID, data.ParticipantID, data.Typing, e.cfg.Now())
			e.notify(env.ConversationID)
		}
	case protocol.TypeReadAdvanced:
		var data protocol.ReadAdvancedData
		if err = env.DecodeData(&data); err == nil {
			e.onReadAdvanced(env.ConversationID, data)
		}
	case protocol.TypeSendFailed:
		var data protocol.SendFailedData
		if err = env.DecodeData(&data); err == nil {
			e.onSendFailed(env.ConversationID, data)
		}
	case protocol.TypePresenceChanged:
		var data protocol.PresenceChangedData
		if err = env.DecodeData(&data); err == nil {
			e.online[data.ParticipantID] = data.Online
			e.notify("")
		}
	case protocol.TypeError:
		var data protocol.ErrorData
		if err = env.DecodeData(&data); err == nil {
			logger.Warn("Realtime error for %s: %s %s", env.ConversationID, data.Code, data.Message)
			if c, ok := e.convs[env.ConversationID]; ok && data.Code == errors.CodeNotAParticipant {
				c.joined = false
			}
		}
	case protocol.TypePong:
	default:
		logger.Debug("Ignoring realtime event %q", env.Type)
	}

	if err != nil {
		logger.Warn("Malformed %s event: %v", env.Type, err)
	}
}

func (e *Engine) onJoined(conversationID string, data protocol.JoinedData) {
	c := e.conversation(conversationID)
	if data.Conversation != nil {
		c.info = data.Conversation
	}

	now := e.cfg.Now()
	for _, participantID := range data.Typing {
		if participantID != e.self.ParticipantID {
			e.typing.Apply(conversationID, participantID, true, now)
		}
	}
	for _, participantID := range data.Online {
		e.online[participantID] = true
	}
	e.notify(conversationID)
}

func (e *Engine) onMessage(conversationID string, msg *entity.Message) {
	if msg == nil {
		return
	}
	if conversationID == "" {
		conversationID = msg.ConversationID
	}

	c := e.conversation(conversationID)
	entry, added := c.state.Reconcile(msg)
	if entry == nil {
		return
	}
	e.settle(entry.Message.ClientTempID)
	if c.joined && c.synced && msg.CreatedAt.After(c.caughtUp) {
		c.caughtUp = msg.CreatedAt
	}

	if added && msg.SenderID != e.self.ParticipantID {
		e.unread.Increment(conversationID)
		e.notify("")
	}
	e.typing.Clear(conversationID, msg.SenderID)
	e.notify(conversationID)
}

func (e *Engine) onConversationUpdated(data protocol.ConversationUpdatedData) {
	if data.Conversation == nil {
		return
	}
	c := e.conversation(data.Conversation.ID)
	c.info = data.Conversation

	if data.LastMessage != nil {
		entry, added := c.state.Reconcile(data.LastMessage)
		if entry != nil {
			e.settle(entry.Message.ClientTempID)
		}
		if added && data.LastMessage.SenderID != e.self.ParticipantID {
			e.unread.Increment(data.Conversation.ID)
			e.notify("")
		}
	}
	e.notify(data.Conversation.ID)
}

func (e *Engine) onReadAdvanced(conversationID string, data protocol.ReadAdvancedData) {
	c := e.conversation(conversationID)

	if data.ParticipantID == e.self.ParticipantID {
		e.unread.Set(conversationID, c.state.UnreadAfter(data.LastReadAt))
		e.notify("")
		return
	}

	if data.LastReadAt.After(c.state.PeerReadAt) {
		c.state.PeerReadAt = data.LastReadAt
		e.notify(conversationID)
	}
}

func (e *Engine) onSendFailed(conversationID string, data protocol.SendFailedData) {
	e.stopTimer(data.ClientTempID)

	if c, ok := e.convs[conversationID]; ok {
		if c.state.MarkFailed(data.ClientTempID, data.Code) {
			e.notify(conversationID)
		}
		return
	}
	for id, c := range e.convs {
		if c.state.MarkFailed(data.ClientTempID, data.Code) {
			e.notify(id)
			return
		}
	}
}
