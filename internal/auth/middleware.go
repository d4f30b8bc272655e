package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the parsed Claims.
const ClaimsKey = "claims"

// RequireRole enforces bearer JWT tokens signed with HS256 carrying role.
func RequireRole(signingKey, issuer, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// FromContext returns the claims set by RequireRole.
func FromContext(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
