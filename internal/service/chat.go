package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

// MessageView 是带发送者显示名的聊天消息
type MessageView struct {
	ID        uint      `json:"id"`
	RoomID    uint      `json:"room_id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func messageView(m domain.Message, username string) MessageView {
	return MessageView{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Username:  username,
		Message:   m.Text,
		CreatedAt: m.CreatedAt,
	}
}

// SendMessage 由参与者发送一条聊天消息，长度按码点计算，1 到 140。
func (s *RoomService) SendMessage(ctx context.Context, roomID, userID uint, text string) (*MessageView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})

	// 1. 校验
	if _, err := s.loadRoom(ctx, logCtx, roomID); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, logCtx, roomID, userID); err != nil {
		return nil, err
	}
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return nil, validationf("empty_message", "message cannot be empty")
	}
	if n > domain.MaxMessageLength {
		return nil, validationf("message_too_long", "message must be at most %d characters", domain.MaxMessageLength)
	}

	// 2. 持久化
	msg := &domain.Message{
		RoomID:    roomID,
		UserID:    userID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		logCtx.WithError(err).Error("Failed to save message")
		return nil, ErrInternalServer
	}

	// 3. 广播，附带发送者显示名
	username := s.displayName(ctx, userID)
	s.bus.Publish(roomID, domain.Event{
		Type: domain.EventMessageSent,
		Payload: domain.MessageSentPayload{
			MessageID: msg.ID,
			UserID:    userID,
			Username:  username,
			Message:   msg.Text,
			CreatedAt: msg.CreatedAt,
		},
	})
	logCtx.WithField("message_id", msg.ID).Debug("Message sent")

	view := messageView(*msg, username)
	return &view, nil
}

// GetMessages 返回最近的消息，按时间从旧到新排列。limit 为 0 时使用默认值。
func (s *RoomService) GetMessages(ctx context.Context, roomID, userID uint, limit, offset int) ([]MessageView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})
	if limit == 0 {
		limit = defaultMessageLimit
	}
	if limit < 1 || limit > maxMessageLimit || offset < 0 {
		return nil, validationf("invalid_pagination", "limit must be between 1 and %d and offset >= 0", maxMessageLimit)
	}
	if _, err := s.loadRoom(ctx, logCtx, roomID); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, logCtx, roomID, userID); err != nil {
		return nil, err
	}

	// 存储层按最新在前返回
	messages, err := s.store.ListMessages(ctx, roomID, limit, offset)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list messages")
		return nil, ErrInternalServer
	}
	ids := make([]uint, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.UserID)
	}
	names, err := s.users.DisplayNames(ctx, ids)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load display names")
		return nil, ErrInternalServer
	}

	views := make([]MessageView, len(messages))
	for i, m := range messages {
		views[len(messages)-1-i] = messageView(m, names[m.UserID])
	}
	return views, nil
}
