package server

import (
	"net/http"
	"time"

	"skillswap/internal/auth"
	"skillswap/internal/config"
	"skillswap/internal/metrics"
	"skillswap/internal/mw"
	"skillswap/internal/service"
	"skillswap/internal/storage"
	"skillswap/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, gdb *gorm.DB, store storage.Store, relay *ws.Relay) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免接口被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userSvc := service.NewUserService(gdb, cfg)
	matchSvc := service.NewMatchService(store, relay.Registry())
	msgSvc := service.NewMessageService(store, relay.Registry())
	notifSvc := service.NewNotificationService(store)
	h := NewHandler(userSvc, matchSvc, msgSvc, notifSvc)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, gdb))

	authed.GET("/users", h.ListUsers)
	authed.PUT("/profile", h.UpdateProfile)

	authed.GET("/matches", h.ListMatches)
	authed.POST("/matches", h.CreateMatch)
	authed.POST("/matches/:id/respond", h.RespondMatch)
	authed.GET("/matches/:id/messages", h.ListMessages)
	authed.POST("/matches/:id/messages", h.CreateMessage)

	authed.GET("/notifications", h.ListNotifications)
	authed.PATCH("/notifications/:id/read", h.MarkNotificationRead)
	authed.DELETE("/notifications/:id", h.DeleteNotification)

	r.GET("/ws", ws.Serve(relay))

	return r
}
