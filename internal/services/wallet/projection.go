package wallet

import (
	"time"

	"github.com/gemxhub/backend/internal/models"
)

// WalletRef is the wallet summary embedded in transaction projections
type WalletRef struct {
	Currency string `json:"currency"`
}

// PublicTransaction is the user-facing view of a ledger entry. It never
// carries internal notes.
type PublicTransaction struct {
	ID            uint                   `json:"id"`
	Type          models.TransactionType `json:"type"`
	Amount        int64                  `json:"amount"`
	AmountDisplay string                 `json:"amountDisplay"`
	Description   string                 `json:"description"`
	ReferenceID   *string                `json:"referenceId"`
	CreatedAt     time.Time              `json:"createdAt"`
	Wallet        WalletRef              `json:"wallet"`
}

// AuditTransaction is the service-facing view, including attribution
type AuditTransaction struct {
	PublicTransaction
	WalletID      uint    `json:"walletId"`
	UserID        uint    `json:"userId"`
	InternalNotes *string `json:"internalNotes"`
}

// Pagination describes an offset page
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// TransactionPage is one page of GetTransactions
type TransactionPage struct {
	Transactions []PublicTransaction `json:"transactions"`
	Pagination   Pagination          `json:"pagination"`
}

// Public projects an entry whose Wallet is loaded
func (s *Service) Public(entry models.WalletTransaction) PublicTransaction {
	return PublicTransaction{
		ID:            entry.ID,
		Type:          entry.Type,
		Amount:        entry.Amount,
		AmountDisplay: s.FormatAmount(entry.Wallet.Currency, entry.Amount),
		Description:   entry.Description,
		ReferenceID:   entry.ReferenceID,
		CreatedAt:     entry.CreatedAt,
		Wallet:        WalletRef{Currency: entry.Wallet.Currency},
	}
}

// Audit projects an entry for reconciliation by calling services
func (s *Service) Audit(entry models.WalletTransaction) AuditTransaction {
	return AuditTransaction{
		PublicTransaction: s.Public(entry),
		WalletID:          entry.WalletID,
		UserID:            entry.Wallet.UserID,
		InternalNotes:     entry.InternalNotes,
	}
}
