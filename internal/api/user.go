package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echolink/internal/middleware"
	"github.com/lalith-99/echolink/internal/repository"
	"go.uber.org/zap"
)

// UserHandler handles user-related operations.
type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
//
// Returns the authenticated user's profile. The id comes from the token,
// so a client never has to remember its own UUID. Other users are looked
// up through their presence and conversations, not through a profile
// endpoint.
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}

	// A valid token for a user that no longer exists.
	if user == nil {
		h.logger.Warn("token for unknown user",
			zap.Stringer("user_id", userID),
			zap.String("email", middleware.GetEmail(c)),
		)
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}
