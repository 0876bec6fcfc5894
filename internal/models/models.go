package models

import "time"

// Match 状态机：pending -> accepted | rejected，之后不再变化。
const (
	MatchPending  = "pending"
	MatchAccepted = "accepted"
	MatchRejected = "rejected"
)

// Notification 类型，与前端展示逻辑约定一致。
const (
	NotifMessage       = "message"
	NotifMatchRequest  = "match_request"
	NotifMatchAccepted = "match_accepted"
)

type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Username      string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash  string    `gorm:"not null" json:"-"`
	Name          string    `gorm:"size:128" json:"name"`
	Bio           string    `gorm:"type:text" json:"bio"`
	SkillsOffered string    `gorm:"type:text" json:"skillsOffered"`
	SkillsWanted  string    `gorm:"type:text" json:"skillsWanted"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Match struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FromUserID uint      `gorm:"index:idx_match_from;not null" json:"fromUserId"`
	ToUserID   uint      `gorm:"index:idx_match_to;not null" json:"toUserId"`
	Status     string    `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Participant 判断用户是否为该 match 的参与方。
func (m *Match) Participant(userID uint) bool {
	return userID != 0 && (m.FromUserID == userID || m.ToUserID == userID)
}

// Other 返回 match 中另一方的用户 ID。
func (m *Match) Other(userID uint) uint {
	if m.FromUserID == userID {
		return m.ToUserID
	}
	return m.FromUserID
}

type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MatchID   uint      `gorm:"index:idx_msg_match;not null" json:"matchId"`
	SenderID  uint      `gorm:"index;not null" json:"senderId"`
	Content   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index:idx_notif_user;not null" json:"userId"`
	Type           string    `gorm:"size:32;not null" json:"type"`
	Title          string    `gorm:"size:128" json:"title"`
	Body           string    `gorm:"type:text" json:"message"`
	IsRead         bool      `gorm:"not null;default:false" json:"isRead"`
	RelatedUserID  uint      `json:"relatedUserId,omitempty"`
	RelatedMatchID uint      `json:"relatedMatchId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
