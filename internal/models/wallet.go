package models

import (
	"time"
)

// TransactionType is the direction of a ledger entry
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "CREDIT"
	TransactionTypeDebit  TransactionType = "DEBIT"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == TransactionTypeCredit || t == TransactionTypeDebit
}

// Wallet is the balance of one user in one currency. Balance is an integer
// amount of the currency's base unit and never goes negative.
type Wallet struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_wallet_user_currency;not null" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID" json:"-"`
	Currency  string    `gorm:"type:varchar(32);uniqueIndex:idx_wallet_user_currency;not null" json:"currency"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletTransaction is an append-only ledger entry. Amount is signed:
// positive for credits, negative for debits.
type WalletTransaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	WalletID      uint            `gorm:"index;not null" json:"wallet_id"`
	Wallet        Wallet          `gorm:"foreignKey:WalletID" json:"-"`
	Type          TransactionType `gorm:"type:varchar(10);not null" json:"type"`
	Amount        int64           `gorm:"not null" json:"amount"`
	Description   string          `gorm:"type:text;not null" json:"description"`
	InternalNotes *string         `gorm:"type:text" json:"-"`
	ReferenceID   *string         `gorm:"type:varchar(255);index" json:"reference_id"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
}
