package handlers

import (
	"net/http"

	"github.com/gemxhub/backend/internal/services/referral"
	"github.com/gemxhub/backend/internal/services/user"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// ReferralHandler serves referral codes and the referral graph
type ReferralHandler struct {
	referrals *referral.Service
	users     *user.Service
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(referrals *referral.Service, users *user.Service) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, users: users}
}

// SetReferrerRequest claims a referrer by code
type SetReferrerRequest struct {
	ReferralCode string `json:"referralCode" binding:"required"`
}

// BatchCreateUsersRequest is the service call creating users in bulk
type BatchCreateUsersRequest struct {
	Users []user.CreateUserInput `json:"users" binding:"required,min=1,max=1000"`
}

// BatchSetReferrersRequest is the service call assigning referrers in bulk
type BatchSetReferrersRequest struct {
	Pairs []referral.Pair `json:"pairs" binding:"required,min=1,max=1000,dive"`
}

// GetReferralCode returns the caller's shareable code
func (h *ReferralHandler) GetReferralCode(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	code, err := h.referrals.GetReferralCode(userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referral_code": code})
}

// SetReferrer records who referred the caller. Allowed once.
func (h *ReferralHandler) SetReferrer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SetReferrerRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	updated, err := h.referrals.SetReferrer(c.Request.Context(), userID, req.ReferralCode)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// GetReferrals lists the users the caller referred
func (h *ReferralHandler) GetReferrals(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	referrals, err := h.referrals.GetReferrals(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, referrals)
}

// GetReferralsCount counts the caller's referrals
func (h *ReferralHandler) GetReferralsCount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	count, err := h.referrals.GetReferralsCount(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

// BatchCreateUsers creates users for another service. Failures are
// reported per item.
func (h *ReferralHandler) BatchCreateUsers(c *gin.Context) {
	var req BatchCreateUsersRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	result, err := h.users.CreateUsersBatch(c.Request.Context(), req.Users)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BatchSetReferrers assigns referrers for another service
func (h *ReferralHandler) BatchSetReferrers(c *gin.Context) {
	var req BatchSetReferrersRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	result, err := h.referrals.SetReferrersBatch(c.Request.Context(), req.Pairs)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
