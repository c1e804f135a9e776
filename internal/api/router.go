package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echolink/internal/middleware"
)

// HealthChecker is anything whose liveness gates /v1/health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers is everything NewRouter mounts.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Messages      *MessageHandler
	Notifications *NotificationHandler
	Presence      *PresenceHandler
	Sockets       *SocketHandler

	// Health, when set, is pinged by /v1/health. Nil means always ok.
	Health HealthChecker
}

// NewRouter builds the gin engine with every route.
func NewRouter(jwtSecret string, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Public: load balancers health-check without a token, and signup and
	// login are where tokens come from.
	r.GET("/v1/health", health(h.Health))
	r.POST("/v1/auth/signup", h.Auth.Signup)
	r.POST("/v1/auth/login", h.Auth.Login)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtSecret))

	v1.GET("/users/me", h.Users.GetMe)
	v1.GET("/users/:id/presence", h.Presence.Get)
	v1.GET("/presence/online", h.Presence.ListOnline)

	v1.POST("/messages", h.Messages.Send)
	v1.GET("/conversations/:peer/messages", h.Messages.History)

	v1.GET("/notifications", h.Notifications.List)
	v1.POST("/notifications/:id/read", h.Notifications.MarkRead)
	v1.POST("/friend-requests", h.Notifications.SendFriendRequest)

	v1.GET("/ws", h.Sockets.Connect)

	return r
}

func health(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil {
			if err := checker.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
