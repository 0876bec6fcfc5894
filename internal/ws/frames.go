package ws

import (
	"encoding/json"
	"time"
)

// 入站帧类型。
const (
	TypeAuth          = "auth"
	TypeMessage       = "message"
	TypeMatchRequest  = "match_request"
	TypeMatchResponse = "match_response"
	TypeTyping        = "typing"
	TypePing          = "ping"
)

// 出站帧类型（message/match_request/match_response/typing 双向复用）。
const (
	TypeNotification = "notification"
	TypePong         = "pong"
	TypeError        = "error"
)

// 被新登录顶替的连接使用的关闭码。
const CloseSuperseded = 4000

// Frame 是入站帧的信封，data 延迟到各 handler 再按类型解码，
// 这样畸形负载会在解码处统一失败，而不是散落在各处的字段检查。
type Frame struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	MatchID      uint            `json:"matchId,omitempty"`
	TargetUserID uint            `json:"targetUserId,omitempty"`
}

// OutFrame 是出站帧的信封。
type OutFrame struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	MatchID uint        `json:"matchId,omitempty"`
}

type AuthPayload struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type ResponsePayload struct {
	Response string `json:"response"`
}

type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// MessageEvent 是持久化后的消息记录加上投递方向标记。
type MessageEvent struct {
	ID        uint      `json:"id"`
	MatchID   uint      `json:"matchId"`
	SenderID  uint      `json:"senderId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"` // sent | received
}

type TypingEvent struct {
	MatchID  uint   `json:"matchId"`
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// PendingNotifications 是认证成功后补发的未读通知批次。
type PendingNotifications struct {
	Type          string      `json:"type"` // 固定为 pending_notifications
	Notifications interface{} `json:"notifications"`
}
