package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/service"
)

// UserHandler handles HTTP requests for riders.
type UserHandler struct {
	identityService *service.IdentityService
	logger          *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(identityService *service.IdentityService, logger *zap.Logger) *UserHandler {
	return &UserHandler{identityService: identityService, logger: logger}
}

// RegisterRequest is the HTTP request body for rider registration.
type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// UserResponse is the HTTP response for rider data.
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
}

// Register handles POST /v1/users/register
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	user, err := h.identityService.RegisterRider(c.Request.Context(), service.RegisterRiderRequest{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusCreated, toUserResponse(user))
}

// Me handles GET /v1/users/me
func (h *UserHandler) Me(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	user, err := h.identityService.GetRiderProfile(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toUserResponse(user))
}
