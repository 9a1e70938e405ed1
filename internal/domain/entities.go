package domain

import (
	"time"
)

type SenderType string

const (
	SenderUser    SenderType = "user"
	SenderManager SenderType = "manager"
)

// ParseSenderType defaults to user unless the value is exactly "manager".
func ParseSenderType(s string) SenderType {
	if s == string(SenderManager) {
		return SenderManager
	}
	return SenderUser
}

type Session struct {
	ID        string    `json:"id"`
	UserName  string    `json:"userName,omitempty"`
	UserEmail string    `json:"userEmail,omitempty"`
	UserPhone string    `json:"userPhone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// User returns the questionnaire identity, or nil when none was captured.
func (s *Session) User() *UserInfo {
	if s == nil || (s.UserName == "" && s.UserEmail == "" && s.UserPhone == "") {
		return nil
	}
	return &UserInfo{Name: s.UserName, Email: s.UserEmail, Phone: s.UserPhone}
}

type UserInfo struct {
	Name  string `json:"name" validate:"max=200"`
	Email string `json:"email" validate:"omitempty,email,max=320"`
	Phone string `json:"phone" validate:"max=50"`
}

type Message struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"-"`
	Text       string     `json:"text"`
	SenderType SenderType `json:"senderType"`
	Timestamp  time.Time  `json:"timestamp"`
}
