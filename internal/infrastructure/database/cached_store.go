package database

import (
	"context"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"

	"github.com/patrickmn/go-cache"
)

// CachedStore keeps recently read session rows in memory. Messages always go
// straight to the underlying store.
type CachedStore struct {
	chat.MessageStore
	sessions *cache.Cache
}

var _ chat.MessageStore = (*CachedStore)(nil)

func NewCachedStore(inner chat.MessageStore, ttl time.Duration) *CachedStore {
	return &CachedStore{
		MessageStore: inner,
		sessions:     cache.New(ttl, 2*ttl),
	}
}

func (s *CachedStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if v, ok := s.sessions.Get(sessionID); ok {
		sess := *v.(*domain.Session)
		return &sess, nil
	}
	sess, err := s.MessageStore.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		return sess, err
	}
	s.remember(sess)
	return sess, nil
}

func (s *CachedStore) EnsureSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if v, ok := s.sessions.Get(sessionID); ok {
		sess := *v.(*domain.Session)
		return &sess, nil
	}
	sess, err := s.MessageStore.EnsureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.remember(sess)
	return sess, nil
}

func (s *CachedStore) SaveUser(ctx context.Context, sessionID string, user domain.UserInfo) (*domain.Session, error) {
	s.sessions.Delete(sessionID)
	sess, err := s.MessageStore.SaveUser(ctx, sessionID, user)
	if err != nil {
		return nil, err
	}
	s.remember(sess)
	return sess, nil
}

func (s *CachedStore) remember(sess *domain.Session) {
	cp := *sess
	s.sessions.SetDefault(sess.ID, &cp)
}
