package chat

import (
	"context"
	"time"

	"chat-relay/internal/domain"
)

// Conn is the duplex handle of one upgraded WebSocket. Implementations need not be
// safe for concurrent writes: only the owning actor writes to a Conn.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Ping(deadline time.Time) error
	Close() error
}

type ListQuery struct {
	Limit       int
	Offset      int
	NewestFirst bool
}

// MessageStore is the durable, session-partitioned message log.
type MessageStore interface {
	// Append assigns id and timestamp and durably writes the message.
	Append(ctx context.Context, sessionID string, sender domain.SenderType, text string) (domain.Message, error)
	List(ctx context.Context, sessionID string, q ListQuery) ([]domain.Message, error)
	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	EnsureSession(ctx context.Context, sessionID string) (*domain.Session, error)
	SaveUser(ctx context.Context, sessionID string, user domain.UserInfo) (*domain.Session, error)
}

// Notifier relays accepted user messages to human operators. Best effort.
type Notifier interface {
	Notify(ctx context.Context, event domain.NotificationEvent) error
}

// Coordinator hands out per-session ownership leases so that, across instances,
// one session id is served by exactly one actor.
type Coordinator interface {
	InstanceID() string
	// Claim returns the current owner after trying to take the lease.
	Claim(ctx context.Context, sessionID string) (owner string, err error)
	Renew(ctx context.Context, sessionIDs []string) error
	Release(ctx context.Context, sessionID string) error
}
