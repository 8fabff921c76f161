package server

import (
	"net/http"
	"time"

	"github.com/TehShadow/Rusty/internal/auth"
	"github.com/TehShadow/Rusty/internal/config"
	"github.com/TehShadow/Rusty/internal/metrics"
	"github.com/TehShadow/Rusty/internal/mw"
	"github.com/TehShadow/Rusty/internal/service"
	"github.com/TehShadow/Rusty/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 是路由需要的全部依赖，由 main 构造后注入。
type Deps struct {
	Config        config.Config
	Auth          *service.AuthService
	Rooms         *service.RoomService
	Relationships *service.RelationshipService
	Chat          *service.ChatService
	Hub           *ws.Hub
	// Limiter 为 nil 时不做 HTTP 限速。
	Limiter *mw.Limiter
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	originOK := mw.OriginChecker(cfg.Env, cfg.CORSAllowedOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.RequestLogger())
	r.Use(mw.CORS(originOK))
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(d.Auth, d.Rooms, d.Relationships, d.Chat, cfg.CookieSecure)
	streams := ws.NewHandler(d.Hub, d.Auth, ErrorStatus, ws.HandlerConfig{
		IdleTimeout:       time.Duration(cfg.WSIdleTimeoutSeconds) * time.Second,
		MessagesPerSecond: float64(cfg.WSMessagesPerSecond),
		CheckOrigin:       originOK,
	})

	api := r.Group("/api/v1")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)

	// WebSocket 端点自行完成认证，失败时在升级前返回 401。
	api.GET("/rooms/:id/stream", streams.Serve(d.Chat.RoomStream(), "id"))
	api.GET("/dms/:userId/stream", streams.Serve(d.Chat.DirectStream(), "userId"))

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(d.Auth))

	authed.POST("/logout", h.Logout)
	authed.POST("/token/refresh", h.RefreshToken)
	authed.GET("/me", h.Me)

	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.POST("/rooms/:id/join", h.JoinRoom)
	authed.GET("/rooms/:id/members", h.RoomMembers)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/messages", h.PostMessage)

	authed.GET("/relationships/friends", h.ListFriends)
	authed.GET("/relationships/pending", h.ListPending)
	authed.POST("/relationships/:userId", h.RequestFriend)
	authed.POST("/relationships/:userId/accept", h.AcceptFriend)
	authed.POST("/relationships/:userId/block", h.BlockUser)
	authed.DELETE("/relationships/:userId", h.RemoveRelationship)

	authed.GET("/dms/:userId/messages", h.ListDirect)
	authed.POST("/dms/:userId/messages", h.PostDirect)

	return r
}
