package server

import (
	"time"

	"aichatroom/internal/auth"
	"aichatroom/internal/config"
	"aichatroom/internal/metrics"
	"aichatroom/internal/mw"
	"aichatroom/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Limiters 是路由使用的限速器，调用方负责 Run 与 Stop。
type Limiters struct {
	IP     *mw.KeyedLimiter
	Typing *mw.KeyedLimiter
}

func NewLimiters() Limiters {
	return Limiters{
		// 控制单个 IP+路由的速率。
		IP: mw.NewKeyedLimiter(rate.Every(time.Second/20), 40, 10*time.Minute),
		// 输入状态每个用户每 500ms 最多一次写入，客户端本身按 1s 节流。
		Typing: mw.NewKeyedLimiter(rate.Every(500*time.Millisecond), 2, 10*time.Minute),
	}
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及变更订阅端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *realtime.Hub, h *Handler, lim Limiters) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestID())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(lim.IP))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/realtime", realtime.Serve(hub, db, cfg))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.GET("/auth/user", h.CurrentUser)

	authed.GET("/messages", h.ListMessages)
	authed.GET("/messages/:id", h.GetMessage)
	authed.POST("/messages", h.CreateMessage)
	authed.PATCH("/messages/:id", h.UpdateMessage)
	authed.DELETE("/messages/:id", h.DeleteMessage)

	authed.GET("/ai/interactions", h.ListAIInteractions)
	authed.POST("/ai", h.AskAI)
	authed.POST("/ai/summary", h.Summarize)

	authed.GET("/typing", h.ListTyping)
	authed.PUT("/typing", mw.PerUser(lim.Typing), h.UpsertTyping)
	authed.DELETE("/typing", h.DeleteTyping)
	authed.DELETE("/typing/stale", h.SweepTyping)

	authed.GET("/profiles", h.ListProfiles)
	authed.GET("/profiles/me", h.MyProfile)
	authed.PUT("/profiles/me", h.UpdateMyProfile)
	authed.PUT("/profiles/me/theme", h.SetMyTheme)

	return r
}
