package domain

import "time"

// NotificationEvent is handed to the notification relay for every accepted user message.
type NotificationEvent struct {
	SessionID  string     `json:"sessionId"`
	MessageID  string     `json:"messageId"`
	Text       string     `json:"text"`
	SenderType SenderType `json:"senderType"`
	User       *UserInfo  `json:"user,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
