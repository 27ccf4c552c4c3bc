package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/middleware"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/services/wallet"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// InternalWalletHandler serves ledger operations to other services
type InternalWalletHandler struct {
	wallets *wallet.Service
}

// NewInternalWalletHandler creates a new internal wallet handler
func NewInternalWalletHandler(wallets *wallet.Service) *InternalWalletHandler {
	return &InternalWalletHandler{wallets: wallets}
}

// LedgerRequest is the body of credit and debit calls. Amount is validated
// by the ledger so that zero and negative values map to INVALID_AMOUNT.
type LedgerRequest struct {
	UserID      uint   `json:"userId" binding:"required"`
	Currency    string `json:"currency" binding:"required,currency"`
	Amount      int64  `json:"amount"`
	Description string `json:"description" binding:"required,max=255"`
	ReferenceID string `json:"referenceId" binding:"omitempty,max=200"`
}

// TransactionQuery locates a transaction for reconciliation
type TransactionQuery struct {
	WalletType      string `form:"walletType" binding:"required,currency"`
	TransactionType string `form:"transactionType" binding:"required"`
	ReferenceID     string `form:"referenceId" binding:"required"`
	UserID          *uint  `form:"userId"`
}

// Credit adds funds to a wallet, creating it if needed
func (h *InternalWalletHandler) Credit(c *gin.Context) {
	var req LedgerRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	entry, err := h.wallets.Credit(c.Request.Context(), wallet.CreditRequest{
		UserID:      req.UserID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
		ServiceName: callerName(c),
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.wallets.Audit(*entry))
}

// Debit removes funds from an existing wallet
func (h *InternalWalletHandler) Debit(c *gin.Context) {
	var req LedgerRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	entry, err := h.wallets.Debit(c.Request.Context(), wallet.DebitRequest{
		UserID:      req.UserID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
		ServiceName: callerName(c),
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.wallets.Audit(*entry))
}

// GetBalance returns a user's balances
func (h *InternalWalletHandler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil || userID == 0 {
		utils.RespondError(c, apperror.BadRequest("invalid user id"))
		return
	}

	balances, err := h.wallets.GetBalance(c.Request.Context(), uint(userID))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

// GetTransaction returns the audit view of a matching transaction, or null
func (h *InternalWalletHandler) GetTransaction(c *gin.Context) {
	var q TransactionQuery
	if !utils.BindQuery(c, &q) {
		return
	}

	txType := models.TransactionType(strings.ToUpper(q.TransactionType))
	if !txType.Valid() {
		utils.RespondError(c, apperror.BadRequest("transactionType must be CREDIT or DEBIT"))
		return
	}

	found, err := h.wallets.GetTransactionByReference(c.Request.Context(), q.WalletType, txType, q.ReferenceID, q.UserID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if found == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, found)
}

func callerName(c *gin.Context) string {
	if identity, ok := middleware.CurrentService(c); ok {
		return identity.Name
	}
	return ""
}
