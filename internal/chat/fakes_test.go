package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/domain"

	"github.com/google/uuid"
)

// journal records store writes and socket writes in one global order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) index(entry string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeConn struct {
	name    string
	journal *journal

	mu        sync.Mutex
	frames    []map[string]interface{}
	failWrite bool
	failPing  bool
	closed    bool
	pings     int
}

func newFakeConn(name string, j *journal) *fakeConn {
	return &fakeConn{name: name, journal: j}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	if c.failWrite {
		return errors.New("broken pipe")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	c.frames = append(c.frames, frame)

	entry := fmt.Sprintf("write:%s:%s", c.name, frame["type"])
	if data, ok := frame["data"].(map[string]interface{}); ok {
		if id, ok := data["id"].(string); ok {
			entry += ":" + id
		}
	}
	c.journal.add(entry)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Ping(time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if c.failPing || c.closed {
		return errors.New("ping failed")
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFailWrite(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrite = v
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f["type"].(string))
	}
	return out
}

func (c *fakeConn) ofType(t string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, f := range c.frames {
		if f["type"] == t {
			out = append(out, f["data"].(map[string]interface{}))
		}
	}
	return out
}

type memStore struct {
	journal *journal

	mu        sync.Mutex
	messages  map[string][]domain.Message
	sessions  map[string]*domain.Session
	appendErr error
	ensureErr error
	appends   int
}

func newMemStore(j *journal) *memStore {
	return &memStore{
		journal:  j,
		messages: make(map[string][]domain.Message),
		sessions: make(map[string]*domain.Session),
	}
}

func (s *memStore) Append(_ context.Context, sessionID string, sender domain.SenderType, text string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.appendErr != nil {
		return domain.Message{}, s.appendErr
	}
	ts := time.Now().UTC()
	if msgs := s.messages[sessionID]; len(msgs) > 0 && ts.Before(msgs[len(msgs)-1].Timestamp) {
		ts = msgs[len(msgs)-1].Timestamp
	}
	msg := domain.Message{ID: uuid.NewString(), SessionID: sessionID, Text: text, SenderType: sender, Timestamp: ts}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	s.journal.add("append:" + msg.ID)
	return msg, nil
}

func (s *memStore) List(_ context.Context, sessionID string, q ListQuery) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append([]domain.Message(nil), s.messages[sessionID]...)
	if q.NewestFirst {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	if q.Offset >= len(all) {
		return []domain.Message{}, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[q.Offset:end], nil
}

func (s *memStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) EnsureSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensureErr != nil {
		return nil, s.ensureErr
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &domain.Session{ID: sessionID, CreatedAt: time.Now().UTC()}
		s.sessions[sessionID] = sess
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) SaveUser(ctx context.Context, sessionID string, user domain.UserInfo) (*domain.Session, error) {
	if _, err := s.EnsureSession(ctx, sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	sess.UserName, sess.UserEmail, sess.UserPhone = user.Name, user.Email, user.Phone
	cp := *sess
	return &cp, nil
}

func (s *memStore) count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[sessionID])
}

type fakeNotifier struct {
	events chan domain.NotificationEvent
	err    error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(chan domain.NotificationEvent, 16)}
}

func (n *fakeNotifier) Notify(_ context.Context, event domain.NotificationEvent) error {
	n.events <- event
	return n.err
}

type fakeCoordinator struct {
	instance string

	mu       sync.Mutex
	owners   map[string]string
	claimErr error
	renewed  []string
	released []string
}

func newFakeCoordinator(instance string) *fakeCoordinator {
	return &fakeCoordinator{instance: instance, owners: make(map[string]string)}
}

func (c *fakeCoordinator) InstanceID() string { return c.instance }

func (c *fakeCoordinator) Claim(_ context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return "", c.claimErr
	}
	if owner, ok := c.owners[sessionID]; ok {
		return owner, nil
	}
	c.owners[sessionID] = c.instance
	return c.instance, nil
}

func (c *fakeCoordinator) Renew(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewed = append(c.renewed, ids...)
	return nil
}

func (c *fakeCoordinator) Release(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.owners, sessionID)
	c.released = append(c.released, sessionID)
	return nil
}
