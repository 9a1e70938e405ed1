package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/metrics"
	"chat-relay/internal/pkg/logger"

	"github.com/google/uuid"
)

const module = "ChatActor"

type Options struct {
	WriteTimeout  time.Duration
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	InboxSize     int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	return o
}

// SessionInfo is the metadata view returned by the HTTP fallback.
type SessionInfo struct {
	Session          *domain.Session
	ConnectedClients int
}

// Actor owns one chat session. Every piece of session state, including the
// connection set and all socket writes, is touched only by the run goroutine;
// callers submit work through the inbox and wait for it to complete.
type Actor struct {
	sessionID string
	store     MessageStore
	notifier  Notifier
	log       logger.ILogger
	opts      Options

	inbox    chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// owned by run
	conns    map[string]*connection
	session  *domain.Session
	retiring bool

	// readable from the registry janitor
	connCount  atomic.Int32
	lastActive atomic.Int64
}

func newActor(sessionID string, store MessageStore, notifier Notifier, log logger.ILogger, opts Options) *Actor {
	a := &Actor{
		sessionID: sessionID,
		store:     store,
		notifier:  notifier,
		log:       log,
		opts:      opts.withDefaults(),
		conns:     make(map[string]*connection),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	a.inbox = make(chan func(), a.opts.InboxSize)
	a.touch()
	go a.run()
	metrics.ActorStarted()
	return a
}

func (a *Actor) SessionID() string { return a.sessionID }

func (a *Actor) run() {
	defer close(a.stopped)
	defer a.shutdown()
	for {
		select {
		case task := <-a.inbox:
			task()
		case <-a.quit:
			return
		}
	}
}

func (a *Actor) shutdown() {
	for _, c := range a.conns {
		a.remove(c)
	}
	metrics.ActorStopped()
	a.log.Info(module, "Actor stopped", map[string]interface{}{"session_id": a.sessionID})
}

// Stop closes every connection and terminates the actor. Pending calls fail
// with ErrActorStopped.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.quit) })
	<-a.stopped
}

func (a *Actor) touch() {
	a.lastActive.Store(time.Now().UnixNano())
}

// Connections is the number of open connections, safe to call from any goroutine.
func (a *Actor) Connections() int {
	return int(a.connCount.Load())
}

func (a *Actor) idle(now time.Time, timeout time.Duration) bool {
	last := time.Unix(0, a.lastActive.Load())
	return a.Connections() == 0 && now.Sub(last) >= timeout
}

// do runs fn on the actor goroutine and waits for it. The task counts as
// session activity.
func (a *Actor) do(ctx context.Context, fn func()) error {
	return a.exec(ctx, fn, true)
}

// exec is do with activity tracking optional, so housekeeping leaves the idle
// clock alone.
func (a *Actor) exec(ctx context.Context, fn func(), active bool) error {
	finished := make(chan struct{})
	refused := false
	task := func() {
		defer close(finished)
		if a.retiring {
			refused = true
			return
		}
		fn()
		if active {
			a.touch()
		}
	}

	select {
	case a.inbox <- task:
	case <-a.quit:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
	case <-a.stopped:
		select {
		case <-finished:
		default:
			return ErrActorStopped
		}
	}
	if refused {
		return ErrActorStopped
	}
	return nil
}

// retire marks the actor as retiring when, checked on the actor goroutine, it has
// no connections and saw no work for timeout before now. Once marked, every later
// task is refused with ErrActorStopped.
func (a *Actor) retire(ctx context.Context, now time.Time, timeout time.Duration) bool {
	retired := false
	err := a.exec(ctx, func() {
		last := time.Unix(0, a.lastActive.Load())
		if len(a.conns) == 0 && now.Sub(last) >= timeout {
			a.retiring = true
			retired = true
		}
	}, false)
	return err == nil && retired
}

// Attach registers an upgraded socket and sends it the session frame.
func (a *Actor) Attach(ctx context.Context, conn Conn) (string, error) {
	var connID string
	var sendErr error
	err := a.do(ctx, func() {
		c := &connection{
			id:       uuid.NewString(),
			conn:     conn,
			state:    StateConnecting,
			openedAt: time.Now(),
		}
		a.conns[c.id] = c
		a.connCount.Add(1)
		metrics.ConnectionOpened()
		c.state = StateOpen
		connID = c.id

		a.loadSession()
		sendErr = a.send(c, domain.OutboundFrame{
			Type:      domain.FrameSession,
			SessionID: a.sessionID,
			Data:      domain.SessionPayload{SessionID: a.sessionID, ConnectionID: c.id},
		})
		a.log.Info(module, "Connection attached", map[string]interface{}{
			"session_id":    a.sessionID,
			"connection_id": c.id,
			"connections":   len(a.conns),
		})
	})
	if err != nil {
		return "", err
	}
	if sendErr != nil {
		return "", fmt.Errorf("send session frame: %w", sendErr)
	}
	return connID, nil
}

// Detach removes a connection after its read loop ended.
func (a *Actor) Detach(connID string) {
	_ = a.do(context.Background(), func() {
		if c, ok := a.conns[connID]; ok {
			a.remove(c)
			a.log.Info(module, "Connection detached", map[string]interface{}{
				"session_id":    a.sessionID,
				"connection_id": connID,
				"connections":   len(a.conns),
			})
		}
	})
}

// Deliver processes one raw inbound frame from connID.
func (a *Actor) Deliver(ctx context.Context, connID string, raw []byte) error {
	return a.do(ctx, func() {
		c, ok := a.conns[connID]
		if !ok || c.state != StateOpen {
			return
		}
		a.handleFrame(c, raw)
	})
}

func (a *Actor) handleFrame(c *connection, raw []byte) {
	var frame domain.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		a.reject(c, domain.CodeInvalidJSON, "invalid JSON frame")
		return
	}

	switch frame.Type {
	case domain.FramePing:
		_ = a.send(c, domain.OutboundFrame{
			Type:      domain.FramePong,
			SessionID: a.sessionID,
			Data:      map[string]string{"timestamp": time.Now().UTC().Format(domain.TimestampLayout)},
		})

	case domain.FrameJoin:
		_ = a.send(c, domain.OutboundFrame{
			Type:      domain.FrameJoined,
			SessionID: a.sessionID,
			Data:      domain.SessionPayload{SessionID: a.sessionID, ConnectionID: c.id},
		})

	case domain.FrameMessage:
		var payload domain.MessagePayload
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				a.reject(c, domain.CodeInvalidJSON, "message data must be an object with a text field")
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.StoreTimeout)
		defer cancel()
		msg, err := a.accept(ctx, domain.SenderUser, payload.Text, "ws")
		if err != nil {
			a.reject(c, domain.ErrorCode(err), clientError(err))
			return
		}
		_ = a.send(c, domain.OutboundFrame{
			Type:      domain.FrameMessageSent,
			SessionID: a.sessionID,
			Data: domain.MessageSentPayload{
				ID:        msg.ID,
				Timestamp: msg.Timestamp.Format(domain.TimestampLayout),
			},
		})

	default:
		a.reject(c, domain.CodeUnknownType, "unknown message type: "+frame.Type)
	}
}

// Post is the HTTP fallback for injecting a message without a socket.
func (a *Actor) Post(ctx context.Context, text string, sender domain.SenderType) (domain.Message, error) {
	var msg domain.Message
	var acceptErr error
	err := a.do(ctx, func() {
		msg, acceptErr = a.accept(ctx, sender, text, "http")
		if acceptErr != nil {
			metrics.MessageRejected(domain.ErrorCode(acceptErr))
		}
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, acceptErr
}

// accept validates, persists, broadcasts and schedules the notification, in that order.
func (a *Actor) accept(ctx context.Context, sender domain.SenderType, text, source string) (domain.Message, error) {
	text, err := domain.NormalizeText(text)
	if err != nil {
		return domain.Message{}, err
	}

	a.loadSession()

	msg, err := a.store.Append(ctx, a.sessionID, sender, text)
	if err != nil {
		a.log.Error(module, "Failed to persist message", map[string]interface{}{
			"session_id": a.sessionID,
			"error":      err,
		})
		return domain.Message{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	a.broadcast(domain.OutboundFrame{Type: domain.FrameMessage, SessionID: a.sessionID, Data: msg})
	metrics.MessageAccepted(string(sender), source)

	if sender == domain.SenderUser {
		a.notify(msg)
	}
	return msg, nil
}

func (a *Actor) notify(msg domain.Message) {
	if a.notifier == nil {
		return
	}
	event := domain.NotificationEvent{
		SessionID:  a.sessionID,
		MessageID:  msg.ID,
		Text:       msg.Text,
		SenderType: msg.SenderType,
		User:       a.session.User(),
		CreatedAt:  msg.Timestamp,
	}
	notifier, timeout, log := a.notifier, a.opts.NotifyTimeout, a.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := notifier.Notify(ctx, event); err != nil {
			metrics.NotificationFailed()
			log.Warn(module, "Notification failed", map[string]interface{}{
				"session_id": event.SessionID,
				"message_id": event.MessageID,
				"error":      err.Error(),
			})
		}
	}()
}

// broadcast writes frame to every open connection, evicting the ones that fail.
func (a *Actor) broadcast(frame domain.OutboundFrame) {
	delivered, total := 0, len(a.conns)
	for _, c := range a.conns {
		if err := a.send(c, frame); err == nil {
			delivered++
		}
	}
	a.log.Debug(module, "Broadcast", map[string]interface{}{
		"session_id": a.sessionID,
		"type":       frame.Type,
		"delivered":  delivered,
		"targets":    total,
	})
}

var errConnClosed = errors.New("connection closed")

func (a *Actor) send(c *connection, frame domain.OutboundFrame) error {
	if c.state != StateOpen {
		return errConnClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		a.evict(c, err)
		return err
	}
	return nil
}

// clientError is the text shown to the sender. Store details stay in the log.
func clientError(err error) string {
	if errors.Is(err, ErrPersist) {
		return sendFailedText
	}
	return err.Error()
}

func (a *Actor) reject(c *connection, code, text string) {
	metrics.MessageRejected(code)
	_ = a.send(c, domain.OutboundFrame{
		Type:      domain.FrameError,
		SessionID: a.sessionID,
		Data:      domain.ErrorPayload{Code: code, Error: text},
	})
}

func (a *Actor) evict(c *connection, cause error) {
	if c.state == StateClosed {
		return
	}
	metrics.ConnectionEvicted()
	a.log.Warn(module, "Evicting connection after failed write", map[string]interface{}{
		"session_id":    a.sessionID,
		"connection_id": c.id,
		"error":         cause.Error(),
	})
	a.remove(c)
}

func (a *Actor) remove(c *connection) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	delete(a.conns, c.id)
	a.connCount.Add(-1)
	metrics.ConnectionClosed()
	_ = c.conn.Close()
}

// loadSession makes sure the session row exists. Failures are tolerated; the
// next call retries.
func (a *Actor) loadSession() {
	if a.session != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.StoreTimeout)
	defer cancel()
	s, err := a.store.EnsureSession(ctx, a.sessionID)
	if err != nil {
		a.log.Warn(module, "Failed to load session", map[string]interface{}{
			"session_id": a.sessionID,
			"error":      err.Error(),
		})
		return
	}
	a.session = s
}

// Info returns session metadata and the current connection count.
func (a *Actor) Info(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	var loadErr error
	err := a.do(ctx, func() {
		a.loadSession()
		if a.session == nil {
			loadErr = fmt.Errorf("load session %s: store unavailable", a.sessionID)
			return
		}
		s := *a.session
		info = SessionInfo{Session: &s, ConnectedClients: len(a.conns)}
	})
	if err != nil {
		return SessionInfo{}, err
	}
	return info, loadErr
}

// History returns one page of persisted messages.
func (a *Actor) History(ctx context.Context, q ListQuery) ([]domain.Message, error) {
	var msgs []domain.Message
	var listErr error
	err := a.do(ctx, func() {
		msgs, listErr = a.store.List(ctx, a.sessionID, q)
	})
	if err != nil {
		return nil, err
	}
	return msgs, listErr
}

// Identify stores the pre-chat questionnaire answers on the session.
func (a *Actor) Identify(ctx context.Context, user domain.UserInfo) (*domain.Session, error) {
	if err := domain.ValidateUser(user); err != nil {
		return nil, err
	}
	var saved *domain.Session
	var saveErr error
	err := a.do(ctx, func() {
		saved, saveErr = a.store.SaveUser(ctx, a.sessionID, user)
		if saveErr == nil {
			a.session = saved
		}
	})
	if err != nil {
		return nil, err
	}
	return saved, saveErr
}

// Sweep pings every connection and evicts the ones that fail. Returns the number evicted.
func (a *Actor) Sweep(ctx context.Context) (int, error) {
	evicted := 0
	err := a.exec(ctx, func() {
		deadline := time.Now().Add(a.opts.WriteTimeout)
		for _, c := range a.conns {
			if c.state != StateOpen {
				continue
			}
			if err := c.conn.Ping(deadline); err != nil {
				a.evict(c, err)
				evicted++
			}
		}
	}, false)
	return evicted, err
}
