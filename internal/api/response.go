package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bboard/internal/board"
	"bboard/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": errcode.ForStatus(status)})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errcode.Unauthorized})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func TooManyRequests(c *gin.Context)        { Error(c, http.StatusTooManyRequests, "rate limit exceeded") }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// Unprocessable 返回字段级错误；form 非空时一并返回，供前端原样重新渲染表单。
func Unprocessable(c *gin.Context, fields map[string]string, form any) {
	body := gin.H{"error": "validation failed", "code": errcode.Validation, "fields": fields}
	if form != nil {
		body["form"] = form
	}
	c.JSON(http.StatusUnprocessableEntity, body)
}

// respondError 把 board 层的错误映射为 HTTP 响应。
func respondError(c *gin.Context, log *slog.Logger, err error, what string) {
	var verr *board.ValidationError
	switch {
	case errors.Is(err, board.ErrNotFound):
		NotFound(c, what+" not found")
	case errors.Is(err, board.ErrProtected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": errcode.Protected})
	case errors.As(err, &verr):
		Unprocessable(c, verr.Fields, nil)
	default:
		log.Error(what+" request failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
