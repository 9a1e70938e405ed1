package database

import "time"

type ChatSession struct {
	ID        string    `gorm:"type:varchar(128);primaryKey"`
	UserName  string    `gorm:"type:varchar(200)"`
	UserEmail string    `gorm:"type:varchar(320)"`
	UserPhone string    `gorm:"type:varchar(50)"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage rows are append-only. Seq gives a total insertion order that
// breaks ties between equal timestamps.
type ChatMessage struct {
	Seq         uint64    `gorm:"primaryKey;autoIncrement"`
	ID          string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	SessionID   string    `gorm:"type:varchar(128);not null;index:idx_chat_messages_session_created,priority:1"`
	SenderType  string    `gorm:"type:varchar(16);not null"`
	MessageText string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_chat_messages_session_created,priority:2"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
