package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/printlink/printlink/internal/api/handlers"
	"github.com/printlink/printlink/internal/api/middleware"
)

// NewRouter assembles the relay surface. Transport failures use plain HTTP
// codes (400 malformed body, 404 unknown route, 500 panic); everything the
// printer link itself reports rides in HTTP 200 result bodies.
func NewRouter(relay *handlers.RelayHandler, auth *middleware.AuthMiddleware) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.CORSOpen())
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf("[relay] panic on %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Error: "internal error",
			Kind:  "internal_error",
		})
	}))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{
			Error: "unknown route",
			Kind:  "unknown_route",
		})
	})

	group := r.Group("/relay")
	group.GET("/info", relay.Info)
	group.GET("/events", relay.Events)
	if auth.Enabled() {
		group.POST("/token", auth.TokenHandler)
	}

	ops := group.Group("", auth.RequireAuth())
	ops.POST("/connect", relay.Connect)
	ops.POST("/disconnect", relay.Disconnect)
	ops.POST("/send-command", relay.SendCommand)
	ops.POST("/check-status", relay.CheckStatus)

	return r
}
