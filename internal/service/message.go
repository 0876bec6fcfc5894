package service

import (
	"errors"

	"skillswap/internal/metrics"
	"skillswap/internal/models"
	"skillswap/internal/storage"
	"skillswap/internal/ws"
)

// MessageService 封装消息的 REST 侧业务逻辑。POST 路径是实时连接不可用
// 时的回退通道，复用与中继完全相同的授权规则。
type MessageService struct {
	store    storage.Store
	registry *ws.Registry
}

func NewMessageService(store storage.Store, registry *ws.Registry) *MessageService {
	return &MessageService{store: store, registry: registry}
}

// ListForMatch 分页返回 match 内的消息，调用方必须是参与方。
func (s *MessageService) ListForMatch(matchID, userID uint, limit int, beforeID uint) ([]models.Message, error) {
	match, err := s.store.GetMatch(matchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if !match.Participant(userID) {
		return nil, ErrNotAuthorized
	}
	return s.store.MessagesForMatch(matchID, limit, beforeID)
}

// Create 持久化一条消息（REST 回退路径），给对方留通知，
// 对方在线时顺带把实时帧也推过去。
func (s *MessageService) Create(matchID, senderID uint, senderName, content string) (*models.Message, error) {
	match, err := s.store.GetMatch(matchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if !match.Participant(senderID) || match.Status != models.MatchAccepted {
		return nil, ErrNotAuthorized
	}
	msg := models.Message{MatchID: matchID, SenderID: senderID, Content: content}
	if err := s.store.CreateMessage(&msg); err != nil {
		return nil, err
	}
	metrics.ChatMessagesTotal.Inc()

	recipient := match.Other(senderID)
	notif := models.Notification{
		UserID:         recipient,
		Type:           models.NotifMessage,
		Title:          "New message",
		Body:           senderName + " sent you a message",
		RelatedUserID:  senderID,
		RelatedMatchID: matchID,
	}
	var saved *models.Notification
	if err := s.store.CreateNotification(&notif); err == nil {
		saved = &notif
	}

	if s.registry.Send(recipient, ws.OutFrame{Type: ws.TypeMessage, Data: ws.MessageEvent{
		ID:        msg.ID,
		MatchID:   msg.MatchID,
		SenderID:  msg.SenderID,
		Message:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Status:    "received",
	}}) && saved != nil {
		s.registry.Send(recipient, ws.OutFrame{Type: ws.TypeNotification, Data: saved})
	}
	return &msg, nil
}
