package api

import (
	"github.com/gin-gonic/gin"

	"bboard/internal/api/middleware"
	"bboard/internal/board"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, v != 0
	case int:
		if v <= 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), v != 0
	default:
		return 0, false
	}
}

// viewerFromContext 返回评论提交者身份；未登录时为匿名访客。
func viewerFromContext(c *gin.Context) board.Viewer {
	userID, ok := userIDFromContext(c)
	if !ok {
		return board.Viewer{}
	}
	return board.Viewer{UserID: userID, Username: c.GetString(middleware.UsernameKey)}
}
