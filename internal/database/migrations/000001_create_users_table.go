package migrations

import (
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Snapshots of the schema at this migration. They are frozen here so later
// model changes do not rewrite history.
type user000001 struct {
	ID             uint        `gorm:"primaryKey"`
	Email          string      `gorm:"type:varchar(255);uniqueIndex;not null"`
	DisplayName    string      `gorm:"type:varchar(100)"`
	WalletAddress  *string     `gorm:"type:varchar(42);uniqueIndex"`
	PasswordHash   *string     `gorm:"type:varchar(255)"`
	EmailVerified  bool        `gorm:"default:false"`
	ReferrerID     *uint       `gorm:"index"`
	Referrer       *user000001 `gorm:"foreignKey:ReferrerID"`
	LastDailyLogin *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (user000001) TableName() string { return "users" }

type socialAccount000001 struct {
	ID             uint       `gorm:"primaryKey"`
	UserID         uint       `gorm:"index;not null"`
	User           user000001 `gorm:"foreignKey:UserID"`
	Provider       string     `gorm:"type:varchar(20);uniqueIndex:idx_social_provider_account;not null"`
	ProviderUserID string     `gorm:"type:varchar(255);uniqueIndex:idx_social_provider_account;not null"`
	Username       string     `gorm:"type:varchar(255)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (socialAccount000001) TableName() string { return "social_accounts" }

// CreateUsersTable creates the users table with its self-referencing
// referrer key, and the linked social accounts
func CreateUsersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_users_table",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Migrator().CreateTable(&user000001{}); err != nil {
				return err
			}
			if err := tx.Migrator().CreateTable(&socialAccount000001{}); err != nil {
				return err
			}
			if tx.Dialector.Name() == "postgres" {
				return tx.Exec(`ALTER TABLE users ADD CONSTRAINT chk_users_no_self_referral CHECK (referrer_id IS NULL OR referrer_id <> id)`).Error
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable("social_accounts"); err != nil {
				return err
			}
			return tx.Migrator().DropTable("users")
		},
	}
}
