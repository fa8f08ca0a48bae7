package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bboard/internal/auth"
	"bboard/internal/errcode"
)

// 上下文键，由鉴权中间件写入。
const (
	UserIDKey             = "userID"
	UsernameKey           = "username"
	IsStaffKey            = "isStaff"
	MustChangePasswordKey = "mustChangePassword"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errcode.Unauthorized})
}

// AuthMiddleware 校验访问令牌并将用户信息注入上下文。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := accessClaims(c, authService)
		if !ok {
			abortUnauthorized(c)
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalAuthMiddleware 携带有效访问令牌时注入用户信息，否则按匿名访客继续处理。
func OptionalAuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := accessClaims(c, authService); ok {
			setIdentity(c, claims)
		}
		c.Next()
	}
}

// RequireStaffMiddleware 仅允许员工账号访问，需放在 AuthMiddleware 之后。
func RequireStaffMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(IsStaffKey) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff only", "code": errcode.Forbidden})
			return
		}
		c.Next()
	}
}

func accessClaims(c *gin.Context, authService *auth.AuthService) (*auth.TokenClaims, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, false
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, false
	}

	rawToken := parts[1]
	if strings.TrimSpace(rawToken) == "" {
		return nil, false
	}

	claims, err := authService.ValidateToken(rawToken)
	if err != nil || claims.TokenType != auth.TokenTypeAccess {
		return nil, false
	}
	return claims, true
}

func setIdentity(c *gin.Context, claims *auth.TokenClaims) {
	c.Set(UserIDKey, claims.UserID)
	c.Set(UsernameKey, claims.Username)
	c.Set(IsStaffKey, claims.IsStaff)
	c.Set(MustChangePasswordKey, claims.MustChangePassword)
}
