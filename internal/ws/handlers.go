package ws

import (
	"encoding/json"
	"errors"

	"skillswap/internal/metrics"
	"skillswap/internal/models"
	"skillswap/internal/storage"

	"github.com/rs/zerolog/log"
)

type ackPayload struct {
	Message  string `json:"message"`
	MatchID  uint   `json:"matchId,omitempty"`
	Response string `json:"response,omitempty"`
}

type matchRequestEvent struct {
	Match        *models.Match        `json:"match"`
	Notification *models.Notification `json:"notification"`
}

type matchResponseEvent struct {
	Match        *models.Match        `json:"match"`
	Notification *models.Notification `json:"notification,omitempty"`
	Response     string               `json:"response"`
}

// handleAuth 用第一帧建立连接身份并登记到注册表。重复的 auth 帧
// 只保留最新的身份。认证成功后补发积压的未读通知。
func (r *Relay) handleAuth(c *Client, f Frame) {
	var p AuthPayload
	if err := json.Unmarshal(f.Data, &p); err != nil || p.UserID == 0 {
		c.sendError("invalid auth payload")
		return
	}
	// 同一连接重复认证只保留最新身份。
	if c.authed && c.userID != p.UserID {
		r.registry.Release(c)
	}
	c.userID = p.UserID
	c.uname = p.Username
	c.authed = true
	r.registry.Register(c)

	c.sendFrame(OutFrame{Type: TypeNotification, Data: ackPayload{Message: "authenticated"}})

	unread, err := r.store.UnreadNotifications(p.UserID)
	if err != nil {
		log.Warn().Err(err).Uint("user_id", p.UserID).Msg("ws fetch pending notifications")
		return
	}
	if len(unread) > 0 {
		c.sendFrame(OutFrame{Type: TypeNotification, Data: PendingNotifications{
			Type:          "pending_notifications",
			Notifications: unread,
		}})
	}
}

// handleChatMessage 校验 match 授权后持久化消息，回显给发送方并投递给
// 对方（若在线），同时为对方生成一条通知。
func (r *Relay) handleChatMessage(c *Client, f Frame) {
	if !c.authed {
		c.sendError("not authenticated")
		return
	}
	var p MessagePayload
	if err := json.Unmarshal(f.Data, &p); err != nil || p.Message == "" || f.MatchID == 0 {
		c.sendError("invalid message payload")
		return
	}
	match, err := r.store.GetMatch(f.MatchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.sendError("match not found")
			return
		}
		log.Error().Err(err).Uint("match_id", f.MatchID).Msg("ws get match")
		c.sendError("Failed to send message")
		return
	}
	if !match.Participant(c.userID) || match.Status != models.MatchAccepted {
		c.sendError("not authorized for this match")
		return
	}

	msg := models.Message{MatchID: match.ID, SenderID: c.userID, Content: p.Message}
	if err := r.store.CreateMessage(&msg); err != nil {
		log.Error().Err(err).Uint("match_id", match.ID).Msg("ws save message")
		c.sendError("Failed to send message")
		return
	}
	metrics.ChatMessagesTotal.Inc()

	recipient := match.Other(c.userID)
	notif := models.Notification{
		UserID:         recipient,
		Type:           models.NotifMessage,
		Title:          "New message",
		Body:           c.uname + " sent you a message",
		RelatedUserID:  c.userID,
		RelatedMatchID: match.ID,
	}
	var saved *models.Notification
	if err := r.store.CreateNotification(&notif); err != nil {
		// 消息本身已落库，通知失败只记录，不回滚投递。
		log.Warn().Err(err).Uint("user_id", recipient).Msg("ws save notification")
	} else {
		saved = &notif
	}

	event := MessageEvent{
		ID:        msg.ID,
		MatchID:   msg.MatchID,
		SenderID:  msg.SenderID,
		Message:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	event.Status = "sent"
	c.sendFrame(OutFrame{Type: TypeMessage, Data: event})

	event.Status = "received"
	// 只有落库成功的通知才会作为通知帧推送，未持久化的不投递。
	if r.registry.Send(recipient, OutFrame{Type: TypeMessage, Data: event}) && saved != nil {
		r.registry.Send(recipient, OutFrame{Type: TypeNotification, Data: saved})
	}
}

// handleMatchRequest 创建 pending 状态的 match 并通知目标用户。
func (r *Relay) handleMatchRequest(c *Client, f Frame) {
	if !c.authed {
		c.sendError("not authenticated")
		return
	}
	if f.TargetUserID == 0 {
		c.sendError("invalid match request")
		return
	}
	if f.TargetUserID == c.userID {
		c.sendError("cannot send a match request to yourself")
		return
	}

	match := models.Match{FromUserID: c.userID, ToUserID: f.TargetUserID, Status: models.MatchPending}
	if err := r.store.CreateMatch(&match); err != nil {
		log.Error().Err(err).Uint("target", f.TargetUserID).Msg("ws create match")
		c.sendError("Failed to send match request")
		return
	}
	metrics.MatchEventsTotal.WithLabelValues("request").Inc()

	notif := models.Notification{
		UserID:         f.TargetUserID,
		Type:           models.NotifMatchRequest,
		Title:          "New match request",
		Body:           c.uname + " wants to swap skills with you",
		RelatedUserID:  c.userID,
		RelatedMatchID: match.ID,
	}
	var saved *models.Notification
	if err := r.store.CreateNotification(&notif); err != nil {
		log.Warn().Err(err).Uint("user_id", f.TargetUserID).Msg("ws save notification")
	} else {
		saved = &notif
	}

	// 目标不在线时不丢事件：通知已落库，等下次认证时随
	// pending_notifications 批次补发。
	r.registry.Send(f.TargetUserID, OutFrame{Type: TypeMatchRequest, Data: matchRequestEvent{
		Match:        &match,
		Notification: saved,
	}})
	c.sendFrame(OutFrame{Type: TypeMatchRequest, Data: ackPayload{Message: "match request sent", MatchID: match.ID}})
}

// handleMatchResponse 由接收方把 pending 的 match 迁移到 accepted/rejected。
// 状态迁移是条件更新，对已解决的 match 的二次响应只会得到错误帧。
func (r *Relay) handleMatchResponse(c *Client, f Frame) {
	if !c.authed {
		c.sendError("not authenticated")
		return
	}
	var p ResponsePayload
	if err := json.Unmarshal(f.Data, &p); err != nil || f.MatchID == 0 ||
		(p.Response != models.MatchAccepted && p.Response != models.MatchRejected) {
		c.sendError("invalid match response")
		return
	}
	match, err := r.store.GetMatch(f.MatchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.sendError("match not found")
			return
		}
		log.Error().Err(err).Uint("match_id", f.MatchID).Msg("ws get match")
		c.sendError("Failed to respond to match")
		return
	}
	if c.userID != match.ToUserID {
		c.sendError("not authorized to respond to this match")
		return
	}
	if match.Status != models.MatchPending {
		c.sendError("match already resolved")
		return
	}

	updated, err := r.store.UpdateMatchStatus(f.MatchID, models.MatchPending, p.Response)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			c.sendError("match already resolved")
			return
		}
		log.Error().Err(err).Uint("match_id", f.MatchID).Msg("ws update match")
		c.sendError("Failed to respond to match")
		return
	}
	metrics.MatchEventsTotal.WithLabelValues("response").Inc()

	var notif *models.Notification
	if p.Response == models.MatchAccepted {
		n := models.Notification{
			UserID:         updated.FromUserID,
			Type:           models.NotifMatchAccepted,
			Title:          "Match accepted",
			Body:           c.uname + " accepted your match request",
			RelatedUserID:  c.userID,
			RelatedMatchID: updated.ID,
		}
		if err := r.store.CreateNotification(&n); err != nil {
			log.Warn().Err(err).Uint("user_id", updated.FromUserID).Msg("ws save notification")
		} else {
			notif = &n
		}
	}

	r.registry.Send(updated.FromUserID, OutFrame{Type: TypeMatchResponse, Data: matchResponseEvent{
		Match:        updated,
		Notification: notif,
		Response:     p.Response,
	}})
	c.sendFrame(OutFrame{Type: TypeMatchResponse, Data: ackPayload{Message: "response recorded", MatchID: updated.ID, Response: p.Response}})
}

// handleTyping 是尽力而为的信号：任何校验失败都静默丢弃，不回错误帧。
func (r *Relay) handleTyping(c *Client, f Frame) {
	if !c.authed || f.MatchID == 0 {
		return
	}
	var p TypingPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return
	}
	match, err := r.store.GetMatch(f.MatchID)
	if err != nil {
		return
	}
	if !match.Participant(c.userID) || match.Status != models.MatchAccepted {
		return
	}
	r.registry.Send(match.Other(c.userID), OutFrame{Type: TypeTyping, Data: TypingEvent{
		MatchID:  match.ID,
		UserID:   c.userID,
		Username: c.uname,
		IsTyping: p.IsTyping,
	}})
}
