package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ chat.MessageStore = (*MessageStore)(nil)

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db, now: time.Now}
}

// Append assigns the message id and a timestamp that never precedes the
// session's latest message, then writes the row.
func (s *MessageStore) Append(ctx context.Context, sessionID string, sender domain.SenderType, text string) (domain.Message, error) {
	var row ChatMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last ChatMessage
		ts := s.now().UTC().Truncate(time.Microsecond)
		err := tx.Where("session_id = ?", sessionID).Order("seq DESC").Limit(1).Take(&last).Error
		switch {
		case err == nil:
			if lastTS := last.CreatedAt.UTC(); ts.Before(lastTS) {
				ts = lastTS
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("read latest message: %w", err)
		}

		row = ChatMessage{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			SenderType:  string(sender),
			MessageText: text,
			CreatedAt:   ts,
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return toMessage(row), nil
}

func (s *MessageStore) List(ctx context.Context, sessionID string, q chat.ListQuery) ([]domain.Message, error) {
	order := "seq ASC"
	if q.NewestFirst {
		order = "seq DESC"
	}
	query := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order(order)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var rows []ChatMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]domain.Message, len(rows))
	for i, row := range rows {
		out[i] = toMessage(row)
	}
	return out, nil
}

func (s *MessageStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var row ChatSession
	if err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return toSession(row), nil
}

func (s *MessageStore) EnsureSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := ChatSession{ID: sessionID, CreatedAt: s.now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("ensure session: %s vanished after insert", sessionID)
	}
	return sess, nil
}

func (s *MessageStore) SaveUser(ctx context.Context, sessionID string, user domain.UserInfo) (*domain.Session, error) {
	if _, err := s.EnsureSession(ctx, sessionID); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&ChatSession{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
		"user_name":  user.Name,
		"user_email": user.Email,
		"user_phone": user.Phone,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("save session user: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func toMessage(row ChatMessage) domain.Message {
	return domain.Message{
		ID:         row.ID,
		SessionID:  row.SessionID,
		Text:       row.MessageText,
		SenderType: domain.SenderType(row.SenderType),
		Timestamp:  row.CreatedAt.UTC(),
	}
}

func toSession(row ChatSession) *domain.Session {
	return &domain.Session{
		ID:        row.ID,
		UserName:  row.UserName,
		UserEmail: row.UserEmail,
		UserPhone: row.UserPhone,
		CreatedAt: row.CreatedAt.UTC(),
	}
}
