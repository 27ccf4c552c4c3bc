package handlers

import (
	"net/http"

	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/services/auth"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication related requests
type AuthHandler struct {
	auth *auth.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// OTPRequest asks for a login code
type OTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// OAuthCallbackBody carries the provider's redirect parameters
type OAuthCallbackBody struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state" binding:"required"`
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	res, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Login handles password login
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RequestOTP emails a login code
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req OTPRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	if err := h.auth.RequestOTP(c.Request.Context(), req.Email); err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "code sent"})
}

// VerifyOTP exchanges a login code for a token
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req auth.VerifyOTPRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	res, err := h.auth.VerifyOTP(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// OAuthURL starts a provider login
func (h *AuthHandler) OAuthURL(c *gin.Context) {
	url, state, err := h.auth.AuthURL(c.Request.Context(), models.SocialProvider(c.Param("provider")))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "state": state})
}

// OAuthCallback completes a provider login
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	var body OAuthCallbackBody
	if !utils.BindJSON(c, &body) {
		return
	}

	res, err := h.auth.OAuthCallback(c.Request.Context(), auth.OAuthCallbackRequest{
		Provider: models.SocialProvider(c.Param("provider")),
		Code:     body.Code,
		State:    body.State,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SIWENonce issues a nonce for a Sign-In with Ethereum message
func (h *AuthHandler) SIWENonce(c *gin.Context) {
	nonce, err := h.auth.Nonce(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

// SIWEVerify signs in with a signed message
func (h *AuthHandler) SIWEVerify(c *gin.Context) {
	var req auth.SIWERequest
	if !utils.BindJSON(c, &req) {
		return
	}

	res, err := h.auth.VerifySIWE(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// LinkSocial attaches a provider account to the caller
func (h *AuthHandler) LinkSocial(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req auth.LinkSocialRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	account, err := h.auth.LinkSocial(c.Request.Context(), userID, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// ListSocial returns the caller's linked accounts
func (h *AuthHandler) ListSocial(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	accounts, err := h.auth.ListSocial(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// UnlinkSocial detaches the caller's account for a provider
func (h *AuthHandler) UnlinkSocial(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.auth.UnlinkSocial(c.Request.Context(), userID, models.SocialProvider(c.Param("provider"))); err != nil {
		utils.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
