package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CookieName 是登录时下发 token 的 cookie 名称。
const CookieName = "access_token"

const currentUserKey = "currentUser"

// CurrentUser 是经过两层校验（签名 + 会话）后的调用者身份，
// 由中间件显式写入请求上下文，并作为参数传递给 service 层。
type CurrentUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	SessionID string `json:"-"`
}

// Validator 校验 bearer token 并返回调用者身份。
type Validator interface {
	Validate(ctx context.Context, token string) (*CurrentUser, error)
}

// ExtractToken 依次从 Authorization 头、token 查询参数、cookie 中提取 token。
func ExtractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware 要求请求携带有效 token，失败统一返回 401，不区分具体原因。
func Middleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, err := v.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(currentUserKey, *user)
		c.Next()
	}
}

// GetUser 返回中间件写入的调用者身份。
func GetUser(c *gin.Context) (CurrentUser, bool) {
	if v, ok := c.Get(currentUserKey); ok {
		if u, ok2 := v.(CurrentUser); ok2 {
			return u, true
		}
	}
	return CurrentUser{}, false
}
