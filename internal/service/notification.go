package service

import (
	"errors"

	"skillswap/internal/models"
	"skillswap/internal/storage"
)

// NotificationService 封装通知中心的业务逻辑。通知由中继和其他
// service 创建，这里只负责查询与已读/删除。
type NotificationService struct {
	store storage.Store
}

func NewNotificationService(store storage.Store) *NotificationService {
	return &NotificationService{store: store}
}

func (s *NotificationService) List(userID uint, limit int) ([]models.Notification, error) {
	return s.store.NotificationsForUser(userID, limit)
}

func (s *NotificationService) Unread(userID uint) ([]models.Notification, error) {
	return s.store.UnreadNotifications(userID)
}

func (s *NotificationService) MarkRead(id, userID uint) error {
	if err := s.store.MarkNotificationRead(id, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	return nil
}

func (s *NotificationService) Delete(id, userID uint) error {
	if err := s.store.DeleteNotification(id, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	return nil
}
