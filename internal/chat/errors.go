package chat

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable      = errors.New("chat service unavailable")
	ErrActorStopped     = errors.New("session actor stopped")
	ErrPersist          = errors.New("failed to persist message")
	ErrInvalidSessionID = errors.New("invalid session id")
)

const sendFailedText = "failed to send message"

// NotOwnerError reports that another instance holds the session lease.
type NotOwnerError struct {
	SessionID string
	Owner     string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("session %s is owned by instance %s", e.SessionID, e.Owner)
}
