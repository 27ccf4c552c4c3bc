package handlers

import (
	"net/http"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/middleware"
	"github.com/gemxhub/backend/internal/services/wallet"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// WalletHandler serves the signed-in user's wallets
type WalletHandler struct {
	wallets *wallet.Service
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(wallets *wallet.Service) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// TransactionsQuery pages through the ledger. Page and limit default to 1
// and wallet.DefaultPageSize.
type TransactionsQuery struct {
	Currency string `form:"currency" binding:"omitempty,currency"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

// GetBalance returns the balance of every currency
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	balances, err := h.wallets.GetBalance(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

// GetTransactions returns the user's ledger, newest first
func (h *WalletHandler) GetTransactions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var q TransactionsQuery
	if !utils.BindQuery(c, &q) {
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = wallet.DefaultPageSize
	}

	page, err := h.wallets.GetTransactions(c.Request.Context(), userID, q.Currency, q.Page, q.Limit)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// requireUser reads the authenticated user id, answering 401 when absent
func requireUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.RespondError(c, apperror.Unauthorized("unauthorized"))
		return 0, false
	}
	return userID, true
}
