package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/fpilot/pkg/auth"
)

const (
	ctxClaims = "claims"
	ctxOwner  = "owner"
)

// AuthMiddleware validates the bearer token and requires scope. Admin
// tokens pass every scope check.
func AuthMiddleware(validator auth.Validator, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity validator not configured", "code": "internal"})
			return
		}
		claims, err := validateBearer(c, validator)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "unauthorized"})
			return
		}
		owner := claims.Owner()
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject", "code": "unauthorized"})
			return
		}
		if scope != "" && !claims.HasScope(scope) && !isAdmin(claims) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope " + scope, "code": "forbidden"})
			return
		}
		c.Set(ctxClaims, claims)
		c.Set(ctxOwner, owner)
		c.Next()
	}
}

func validateBearer(c *gin.Context, validator auth.Validator) (*auth.Claims, error) {
	authHeader := c.GetHeader("Authorization")
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(c.Request.Context(), token)
}

// Owner returns the authenticated owner set by AuthMiddleware.
func Owner(c *gin.Context) string {
	return c.GetString(ctxOwner)
}

// Claims returns the validated claims set by AuthMiddleware.
func Claims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*auth.Claims)
	return claims
}

func isAdmin(claims *auth.Claims) bool {
	return claims.HasScope(auth.ScopeAdmin) || claims.Role() == "ADMIN"
}
