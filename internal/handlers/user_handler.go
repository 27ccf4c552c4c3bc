package handlers

import (
	"net/http"

	"github.com/gemxhub/backend/internal/services/user"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// UserHandler handles user related requests
type UserHandler struct {
	users *user.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(users *user.Service) *UserHandler {
	return &UserHandler{users: users}
}

// GetProfile returns the user's profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfile changes the user's editable fields
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req user.UpdateProfileRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	profile, err := h.users.UpdateProfile(c.Request.Context(), userID, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// DailyLogin claims the once-per-day reward
func (h *UserHandler) DailyLogin(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	result, err := h.users.DailyLogin(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
