package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bboard/internal/tasks"
)

const correlationIDKey = "correlationID"

// CorrelationIDHeader 是请求与响应中携带 Correlation ID 的头。
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationIDMiddleware 确保每个请求都带有 Correlation ID，并写入请求 context 供入队使用。
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Request = c.Request.WithContext(tasks.WithCorrelationID(c.Request.Context(), id))

		c.Next()
	}
}

// GetCorrelationID 从上下文中取出 Correlation ID。
func GetCorrelationID(c *gin.Context) string {
	if value, ok := c.Get(correlationIDKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
