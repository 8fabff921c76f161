package server

import (
	"errors"
	"net/http"

	"github.com/TehShadow/Rusty/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorStatus 把业务错误类别映射为 HTTP 状态码，未知错误一律视为 500。
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出错误响应。内部错误只记录日志，不把存储细节返回给客户端。
func fail(c *gin.Context, err error, op string) {
	code := ErrorStatus(err)
	switch code {
	case http.StatusInternalServerError:
		log.Error().Err(err).Str("op", op).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(code, gin.H{"error": "internal error"})
	case http.StatusUnauthorized:
		c.JSON(code, gin.H{"error": "unauthorized"})
	default:
		c.JSON(code, gin.H{"error": err.Error()})
	}
}
