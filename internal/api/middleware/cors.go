package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSOpen allows any origin. The relay serves companion apps across the LAN
// and carries no credentials by default, so the surface is deliberately open.
func CORSOpen() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
