package middleware

import (
	"net/http"
	"strings"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"

	"github.com/gin-gonic/gin"
)

// HostAuthMiddleware guards stream lifecycle mutations. The bearer token
// must be a host token for the stream named in the route.
func HostAuthMiddleware(tokens *services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		streamID := domain.StreamID(c.Param("id"))
		claims, err := tokens.ValidateHostToken(parts[1], streamID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid host token"})
			c.Abort()
			return
		}

		c.Set("broadcaster_id", claims.BroadcasterID)
		c.Next()
	}
}
