package server

import (
	"net/http"
	"time"

	"github.com/TehShadow/Rusty/internal/auth"
	"github.com/TehShadow/Rusty/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	auth         *service.AuthService
	rooms        *service.RoomService
	rels         *service.RelationshipService
	chat         *service.ChatService
	cookieSecure bool
}

func NewHandler(authSvc *service.AuthService, rooms *service.RoomService, rels *service.RelationshipService, chat *service.ChatService, cookieSecure bool) *Handler {
	return &Handler{auth: authSvc, rooms: rooms, rels: rels, chat: chat, cookieSecure: cookieSecure}
}

func currentUser(c *gin.Context) auth.CurrentUser {
	u, _ := auth.GetUser(c)
	return u
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required,min=2,max=64"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "register")
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Login 校验凭据，返回 token 并写入 HttpOnly cookie。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	h.setTokenCookie(c, res.Token, res.ExpiresAt)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) setTokenCookie(c *gin.Context, token string, exp time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Logout 删除当前会话并清除 cookie。
func (h *Handler) Logout(c *gin.Context) {
	u := currentUser(c)
	if err := h.auth.Logout(c.Request.Context(), u.SessionID); err != nil {
		fail(c, err, "logout")
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	log.Info().Str("user", u.ID).Msg("logout")
	c.Status(http.StatusNoContent)
}

// RefreshToken 为当前会话签发新 token。
func (h *Handler) RefreshToken(c *gin.Context) {
	res, err := h.auth.Refresh(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err, "refresh token")
		return
	}
	h.setTokenCookie(c, res.Token, res.ExpiresAt)
	c.JSON(http.StatusOK, res)
}

// Me 返回当前用户。
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// CreateRoom 处理创建房间请求，名称可以为空。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u := currentUser(c)
	room, err := h.rooms.Create(c.Request.Context(), u.ID, req.Name)
	if err != nil {
		fail(c, err, "create room")
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListRooms 返回当前用户加入的房间。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListForUser(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.rooms.Get(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err, "get room")
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	room, err := h.rooms.Join(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err, "join room")
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) RoomMembers(c *gin.Context) {
	members, err := h.rooms.Members(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err, "room members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type pageQuery struct {
	Limit    int  `form:"limit" binding:"min=0"`
	BeforeID uint `form:"before_id"`
}

func bindPage(c *gin.Context) (service.Page, bool) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return service.Page{}, false
	}
	return service.Page{Limit: q.Limit, BeforeID: q.BeforeID}, true
}

type postRequest struct {
	Content string `json:"content" binding:"required"`
}

// ListMessages 返回房间历史消息，默认不分页，可用 limit/before_id 翻页。
func (h *Handler) ListMessages(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	msgs, err := h.chat.RoomHistory(c.Request.Context(), currentUser(c), c.Param("id"), page)
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage 通过 HTTP 发送房间消息，与 WebSocket 入站帧走同一条持久化后广播的路径。
func (h *Handler) PostMessage(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.chat.PostRoom(c.Request.Context(), currentUser(c), c.Param("id"), req.Content, nil)
	if err != nil {
		fail(c, err, "post message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) ListDirect(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	msgs, err := h.chat.DirectHistory(c.Request.Context(), currentUser(c), c.Param("userId"), page)
	if err != nil {
		fail(c, err, "list direct messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) PostDirect(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.chat.PostDirect(c.Request.Context(), currentUser(c), c.Param("userId"), req.Content, nil)
	if err != nil {
		fail(c, err, "post direct message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// RequestFriend 发起好友请求，重复请求是幂等的。
func (h *Handler) RequestFriend(c *gin.Context) {
	rel, err := h.rels.Request(c.Request.Context(), currentUser(c).ID, c.Param("userId"))
	if err != nil {
		fail(c, err, "request relationship")
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (h *Handler) AcceptFriend(c *gin.Context) {
	rel, err := h.rels.Accept(c.Request.Context(), currentUser(c).ID, c.Param("userId"))
	if err != nil {
		fail(c, err, "accept relationship")
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (h *Handler) BlockUser(c *gin.Context) {
	rel, err := h.rels.Block(c.Request.Context(), currentUser(c).ID, c.Param("userId"))
	if err != nil {
		fail(c, err, "block user")
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (h *Handler) RemoveRelationship(c *gin.Context) {
	if err := h.rels.Remove(c.Request.Context(), currentUser(c).ID, c.Param("userId")); err != nil {
		fail(c, err, "remove relationship")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListFriends(c *gin.Context) {
	friends, err := h.rels.ListFriends(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err, "list friends")
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

func (h *Handler) ListPending(c *gin.Context) {
	pending, err := h.rels.ListPending(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err, "list pending")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}
