package middleware

import (
	"net/http"
	"strings"

	"lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/pkg/response"
	"lawsowl_billing/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware JWT认证中间件
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Authorization header is required")
			c.Abort()
			return
		}

		// 检查格式 "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid or expired token")
			c.Abort()
			return
		}

		// 将 userID 和 role 存入上下文
		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// AdminMiddleware 管理员权限中间件
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Error(c, http.StatusUnauthorized, response.ErrNoPermission, "Unauthorized")
			c.Abort()
			return
		}

		roleInt, ok := role.(int)
		if !ok || roleInt != model.RoleAdmin {
			response.Error(c, http.StatusForbidden, response.ErrNoPermission, "Admin permission required")
			c.Abort()
			return
		}

		c.Next()
	}
}
