package middleware

import (
	"strings"

	"ivc/pkg/jwt"
	"ivc/pkg/response"

	"github.com/gin-gonic/gin"
)

// JWTAuth JWT认证中间件
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "缺少认证令牌")
			c.Abort()
			return
		}

		// Bearer token格式
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "认证令牌格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.GetJWTManager().VerifyToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "认证令牌无效或已过期")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("project_id", claims.ProjectID)
		c.Set("username", claims.Username)
		c.Set("claims", claims)
		c.Next()
	}
}

// RequireScope 操作权限中间件，必须在JWTAuth之后使用
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "未认证")
			c.Abort()
			return
		}
		claims, ok := value.(*jwt.JWTClaims)
		if !ok || !claims.HasScope(scope) {
			response.Forbidden(c, "没有执行该操作的权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID 从上下文读取当前用户ID
func GetUserID(c *gin.Context) uint {
	if value, exists := c.Get("user_id"); exists {
		if id, ok := value.(uint); ok {
			return id
		}
	}
	return 0
}
