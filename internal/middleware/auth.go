package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cabgo/internal/domain"
)

const principalKey = "principal"

// TokenVerifier turns a bearer token into a verified principal.
type TokenVerifier interface {
	Verify(token string) (domain.Principal, error)
}

// Authenticate rejects requests without a valid bearer token and stores the
// verified principal on the context.
func Authenticate(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		principal, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireRole restricts a route to the given roles. It must run after Authenticate.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credential"})
			return
		}
		for _, role := range roles {
			if principal.Is(role) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed"})
	}
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c *gin.Context) (domain.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return domain.Principal{}, false
	}
	principal, ok := v.(domain.Principal)
	return principal, ok
}

// SetPrincipal stores a principal on the context.
func SetPrincipal(c *gin.Context, p domain.Principal) {
	c.Set(principalKey, p)
}
