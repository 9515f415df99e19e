package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(Claims(c)) {
			c.Set("error_code", "forbidden")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only", "code": "forbidden"})
			return
		}
		c.Next()
	}
}
