package storage

import (
	"errors"

	"skillswap/internal/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict 表示条件更新没有命中任何行（状态已被其他请求改掉）。
	ErrConflict = errors.New("state conflict")
)

// Store 是实时中继和 REST 层共同消费的持久化接口。
// ID 一律由数据库在写入时分配。
type Store interface {
	GetMatch(id uint) (*models.Match, error)
	CreateMatch(m *models.Match) error
	UpdateMatchStatus(id uint, from, to string) (*models.Match, error)
	MatchesForUser(userID uint) ([]models.Match, error)

	CreateMessage(m *models.Message) error
	MessagesForMatch(matchID uint, limit int, beforeID uint) ([]models.Message, error)

	CreateNotification(n *models.Notification) error
	UnreadNotifications(userID uint) ([]models.Notification, error)
	NotificationsForUser(userID uint, limit int) ([]models.Notification, error)
	MarkNotificationRead(id, userID uint) error
	DeleteNotification(id, userID uint) error
}

// GormStore 基于 gorm 实现 Store。
type GormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) GetMatch(id uint) (*models.Match, error) {
	var m models.Match
	if err := s.db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *GormStore) CreateMatch(m *models.Match) error {
	return s.db.Create(m).Error
}

// UpdateMatchStatus 仅当当前状态等于 from 时才迁移到 to。
// 命中零行说明状态已被并发请求解决，返回 ErrConflict。
func (s *GormStore) UpdateMatchStatus(id uint, from, to string) (*models.Match, error) {
	res := s.db.Model(&models.Match{}).Where("id = ? AND status = ?", id, from).Update("status", to)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return s.GetMatch(id)
}

func (s *GormStore) MatchesForUser(userID uint) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.Where("from_user_id = ? OR to_user_id = ?", userID, userID).
		Order("updated_at desc").Find(&matches).Error
	return matches, err
}

func (s *GormStore) CreateMessage(m *models.Message) error {
	return s.db.Create(m).Error
}

// MessagesForMatch 分页查询消息，按 id 升序返回。
func (s *GormStore) MessagesForMatch(matchID uint, limit int, beforeID uint) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.Where("match_id = ?", matchID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *GormStore) CreateNotification(n *models.Notification) error {
	return s.db.Create(n).Error
}

func (s *GormStore) UnreadNotifications(userID uint) ([]models.Notification, error) {
	var ns []models.Notification
	err := s.db.Where("user_id = ? AND is_read = ?", userID, false).
		Order("id desc").Find(&ns).Error
	return ns, err
}

func (s *GormStore) NotificationsForUser(userID uint, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var ns []models.Notification
	err := s.db.Where("user_id = ?", userID).Order("id desc").Limit(limit).Find(&ns).Error
	return ns, err
}

func (s *GormStore) MarkNotificationRead(id, userID uint) error {
	res := s.db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteNotification(id, userID uint) error {
	res := s.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
