package migrations

import (
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

type wallet000002 struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uint       `gorm:"uniqueIndex:idx_wallet_user_currency;not null"`
	User      user000001 `gorm:"foreignKey:UserID"`
	Currency  string     `gorm:"type:varchar(32);uniqueIndex:idx_wallet_user_currency;not null"`
	Balance   int64      `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (wallet000002) TableName() string { return "wallets" }

type walletTransaction000002 struct {
	ID            uint         `gorm:"primaryKey"`
	WalletID      uint         `gorm:"index;not null"`
	Wallet        wallet000002 `gorm:"foreignKey:WalletID"`
	Type          string       `gorm:"type:varchar(10);not null"`
	Amount        int64        `gorm:"not null"`
	Description   string       `gorm:"type:text;not null"`
	InternalNotes *string      `gorm:"type:text"`
	ReferenceID   *string      `gorm:"type:varchar(255);index"`
	CreatedAt     time.Time    `gorm:"index"`
}

func (walletTransaction000002) TableName() string { return "wallet_transactions" }

// CreateWalletsTable creates wallets and their append-only transaction log
func CreateWalletsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_wallets_table",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Migrator().CreateTable(&wallet000002{}); err != nil {
				return err
			}
			if err := tx.Migrator().CreateTable(&walletTransaction000002{}); err != nil {
				return err
			}
			if tx.Dialector.Name() == "postgres" {
				return tx.Exec(`
					ALTER TABLE wallets ADD CONSTRAINT chk_wallets_balance_non_negative CHECK (balance >= 0);
					ALTER TABLE wallet_transactions ADD CONSTRAINT chk_wallet_transactions_type CHECK (type IN ('CREDIT', 'DEBIT'));
				`).Error
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable("wallet_transactions"); err != nil {
				return err
			}
			return tx.Migrator().DropTable("wallets")
		},
	}
}
