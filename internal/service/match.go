package service

import (
	"errors"

	"skillswap/internal/metrics"
	"skillswap/internal/models"
	"skillswap/internal/storage"
	"skillswap/internal/ws"
)

// MatchService 封装 match 的 REST 侧业务逻辑，与实时中继共享同一套
// 条件状态迁移，保证两条路径不会把已解决的 match 改回去。
type MatchService struct {
	store    storage.Store
	registry *ws.Registry
}

func NewMatchService(store storage.Store, registry *ws.Registry) *MatchService {
	return &MatchService{store: store, registry: registry}
}

// List 返回用户参与的全部 match。
func (s *MatchService) List(userID uint) ([]models.Match, error) {
	return s.store.MatchesForUser(userID)
}

// Request 创建 pending 状态的 match 并给目标用户留通知，
// 目标在线时顺带推一帧。
func (s *MatchService) Request(fromID uint, fromName string, targetID uint) (*models.Match, error) {
	if targetID == 0 || targetID == fromID {
		return nil, ErrNotAuthorized
	}
	match := models.Match{FromUserID: fromID, ToUserID: targetID, Status: models.MatchPending}
	if err := s.store.CreateMatch(&match); err != nil {
		return nil, err
	}
	metrics.MatchEventsTotal.WithLabelValues("request").Inc()
	notif := models.Notification{
		UserID:         targetID,
		Type:           models.NotifMatchRequest,
		Title:          "New match request",
		Body:           fromName + " wants to swap skills with you",
		RelatedUserID:  fromID,
		RelatedMatchID: match.ID,
	}
	var saved *models.Notification
	if err := s.store.CreateNotification(&notif); err == nil {
		saved = &notif
	}
	s.registry.Send(targetID, ws.OutFrame{Type: ws.TypeMatchRequest, Data: map[string]interface{}{
		"match":        &match,
		"notification": saved,
	}})
	return &match, nil
}

// Respond 由接收方解决一个 pending 的 match。
func (s *MatchService) Respond(matchID, userID uint, userName, response string) (*models.Match, error) {
	if response != models.MatchAccepted && response != models.MatchRejected {
		return nil, ErrNotAuthorized
	}
	match, err := s.store.GetMatch(matchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if match.ToUserID != userID {
		return nil, ErrNotAuthorized
	}
	if match.Status != models.MatchPending {
		return nil, ErrAlreadyResolved
	}
	updated, err := s.store.UpdateMatchStatus(matchID, models.MatchPending, response)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrAlreadyResolved
		}
		return nil, err
	}
	metrics.MatchEventsTotal.WithLabelValues("response").Inc()

	var notif *models.Notification
	if response == models.MatchAccepted {
		n := models.Notification{
			UserID:         updated.FromUserID,
			Type:           models.NotifMatchAccepted,
			Title:          "Match accepted",
			Body:           userName + " accepted your match request",
			RelatedUserID:  userID,
			RelatedMatchID: updated.ID,
		}
		if err := s.store.CreateNotification(&n); err == nil {
			notif = &n
		}
	}
	s.registry.Send(updated.FromUserID, ws.OutFrame{Type: ws.TypeMatchResponse, Data: map[string]interface{}{
		"match":        updated,
		"notification": notif,
		"response":     response,
	}})
	return updated, nil
}
