package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"skillswap/internal/auth"
	"skillswap/internal/models"
	"skillswap/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc  *service.UserService
	matchSvc *service.MatchService
	msgSvc   *service.MessageService
	notifSvc *service.NotificationService
}

func NewHandler(userSvc *service.UserService, matchSvc *service.MatchService, msgSvc *service.MessageService, notifSvc *service.NotificationService) *Handler {
	return &Handler{userSvc: userSvc, matchSvc: matchSvc, msgSvc: msgSvc, notifSvc: notifSvc}
}

func currentUser(c *gin.Context) models.User {
	if v, ok := c.Get("user"); ok {
		if u, ok2 := v.(models.User); ok2 {
			return u
		}
	}
	return models.User{}
}

func pathID(c *gin.Context, name string) uint {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		return 0
	}
	return uint(v)
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "username": result.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// ListUsers 返回可浏览的用户列表。
func (h *Handler) ListUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	users, err := h.userSvc.List(limit)
	if err != nil {
		log.Error().Err(err).Msg("list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// UpdateProfile 更新当前用户的资料。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req service.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.userSvc.UpdateProfile(auth.GetUserID(c), req)
	if err != nil {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ListMatches 返回当前用户参与的全部 match。
func (h *Handler) ListMatches(c *gin.Context) {
	matches, err := h.matchSvc.List(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list matches")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list matches"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// CreateMatch 发起 match 请求（REST 路径）。
func (h *Handler) CreateMatch(c *gin.Context) {
	var req struct {
		TargetUserID uint `json:"targetUserId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetUserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user := currentUser(c)
	match, err := h.matchSvc.Request(user.ID, user.Username, req.TargetUserID)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target user"})
			return
		}
		log.Error().Err(err).Uint("target", req.TargetUserID).Msg("create match")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create match"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": match})
}

// RespondMatch 接受或拒绝一个 pending 的 match。
func (h *Handler) RespondMatch(c *gin.Context) {
	matchID := pathID(c, "id")
	var req struct {
		Response string `json:"response"`
	}
	if matchID == 0 || c.ShouldBindJSON(&req) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user := currentUser(c)
	match, err := h.matchSvc.Respond(matchID, user.ID, user.Username, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMatchNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		case errors.Is(err, service.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		case errors.Is(err, service.ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": "match already resolved"})
		default:
			log.Error().Err(err).Uint("match_id", matchID).Msg("respond match")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to respond to match"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": match})
}

// ListMessages 处理获取 match 消息列表请求。
func (h *Handler) ListMessages(c *gin.Context) {
	matchID := pathID(c, "id")
	if matchID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	msgs, err := h.msgSvc.ListForMatch(matchID, auth.GetUserID(c), limit, beforeID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMatchNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		case errors.Is(err, service.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		default:
			log.Error().Err(err).Uint("match_id", matchID).Msg("list messages")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CreateMessage 是实时连接不可用时的聊天回退通道。
func (h *Handler) CreateMessage(c *gin.Context) {
	matchID := pathID(c, "id")
	var req struct {
		Message string `json:"message"`
	}
	if matchID == 0 || c.ShouldBindJSON(&req) != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user := currentUser(c)
	msg, err := h.msgSvc.Create(matchID, user.ID, user.Username, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMatchNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		case errors.Is(err, service.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this match"})
		default:
			log.Error().Err(err).Uint("match_id", matchID).Msg("create message")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// ListNotifications 返回当前用户的通知。
func (h *Handler) ListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ns, err := h.notifSvc.List(auth.GetUserID(c), limit)
	if err != nil {
		log.Error().Err(err).Msg("list notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

// MarkNotificationRead 处理本地已读标记的上报。
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id := pathID(c, "id")
	if id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}
	if err := h.notifSvc.MarkRead(id, auth.GetUserID(c)); err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		log.Error().Err(err).Uint("id", id).Msg("mark notification read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteNotification 删除当前用户的一条通知。
func (h *Handler) DeleteNotification(c *gin.Context) {
	id := pathID(c, "id")
	if id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}
	if err := h.notifSvc.Delete(id, auth.GetUserID(c)); err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		log.Error().Err(err).Uint("id", id).Msg("delete notification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete notification"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
