package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/TehShadow/Rusty/internal/auth"
	"github.com/TehShadow/Rusty/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Stream 把一个 URL 目标（房间或私聊对象）解析为 Hub key，并负责持久化后广播。
type Stream interface {
	// Open 校验 user 是否可以订阅 target，返回对应的 Hub key。
	Open(ctx context.Context, user auth.CurrentUser, target string) (string, error)
	// Post 先写入消息日志，再向 Hub 广播。
	Post(ctx context.Context, user auth.CurrentUser, target, content string, origin *Subscription) error
}

type HandlerConfig struct {
	IdleTimeout       time.Duration
	MessagesPerSecond float64
	// CheckOrigin 为 nil 时接受任意 Origin。
	CheckOrigin func(r *http.Request) bool
}

// Handler 是 WebSocket 连接的入口：认证、授权、订阅，然后桥接读写。
type Handler struct {
	hub      *Hub
	authn    auth.Validator
	statusOf func(error) int
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, authn auth.Validator, statusOf func(error) int, cfg HandlerConfig) *Handler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:      hub,
		authn:    authn,
		statusOf: statusOf,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: check},
	}
}

// Serve 返回处理升级请求的 gin handler，param 是路由中目标 id 的参数名。
// 认证或授权失败都在升级之前以 JSON 错误返回。
func (h *Handler) Serve(stream Stream, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, err := h.authn.Validate(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		target := c.Param(param)
		key, err := stream.Open(c.Request.Context(), *user, target)
		if err != nil {
			code := h.statusOf(err)
			msg := err.Error()
			if code >= http.StatusInternalServerError {
				log.Error().Err(err).Str("target", target).Msg("ws open failed")
				msg = "internal error"
			}
			c.JSON(code, gin.H{"error": msg})
			return
		}

		// 先订阅再完成握手，客户端拨号返回后发布的消息都能收到
		sub := h.hub.Subscribe(key, user.ID, user.Username)
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			sub.Close()
			return
		}

		metrics.WsConnections.Inc()
		defer metrics.WsConnections.Dec()

		client := &Client{
			h:      h,
			conn:   conn,
			sub:    sub,
			user:   *user,
			target: target,
			stream: stream,
		}
		if h.cfg.MessagesPerSecond > 0 {
			burst := int(h.cfg.MessagesPerSecond)
			if burst < 1 {
				burst = 1
			}
			client.limiter = rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), burst)
		}
		client.run(c.Request.Context())
	}
}

// Client 是一个活动连接，读写两个方向各占一个 goroutine。
type Client struct {
	h       *Handler
	conn    *websocket.Conn
	sub     *Subscription
	user    auth.CurrentUser
	target  string
	stream  Stream
	limiter *rate.Limiter
}

func (c *Client) run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(ctx)
	c.sub.Close()
	<-done
	_ = c.conn.Close()
	log.Debug().Str("user", c.user.ID).Str("target", c.target).Bool("dropped", c.sub.Dropped()).Msg("ws closed")
}

func (c *Client) readPump(ctx context.Context) {
	idle := c.h.cfg.IdleTimeout
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("user", c.user.ID).Msg("ws read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		if mt != websocket.TextMessage {
			continue
		}
		in, ok := DecodeInbound(data)
		if !ok {
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			continue
		}
		if err := c.stream.Post(ctx, c.user, c.target, in.Content, c.sub); err != nil {
			if c.h.statusOf(err) == http.StatusBadRequest {
				continue
			}
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("user", c.user.ID).Str("target", c.target).Msg("ws post failed")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.h.cfg.IdleTimeout / 2)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.sub.C():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
