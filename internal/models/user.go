package models

import (
	"time"
)

// User represents a user in the system. ReferrerID is a self reference that
// is written at most once and never forms a cycle.
type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Email          string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	DisplayName    string     `gorm:"type:varchar(100)" json:"display_name"`
	WalletAddress  *string    `gorm:"type:varchar(42);uniqueIndex" json:"wallet_address"`
	PasswordHash   *string    `gorm:"type:varchar(255)" json:"-"`
	EmailVerified  bool       `gorm:"default:false" json:"email_verified"`
	ReferrerID     *uint      `gorm:"index" json:"referrer_id"`
	Referrer       *User      `gorm:"foreignKey:ReferrerID" json:"-"`
	LastDailyLogin *time.Time `json:"last_daily_login"`
	LastLoginAt    *time.Time `json:"last_login_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PublicUser is the projection returned to other users and in referral lists
type PublicUser struct {
	ID             uint       `json:"id"`
	DisplayName    string     `json:"display_name"`
	WalletAddress  *string    `json:"wallet_address"`
	ReferrerID     *uint      `json:"referrer_id"`
	LastDailyLogin *time.Time `json:"last_daily_login"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Public strips private fields from a user
func (u User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		DisplayName:    u.DisplayName,
		WalletAddress:  u.WalletAddress,
		ReferrerID:     u.ReferrerID,
		LastDailyLogin: u.LastDailyLogin,
		CreatedAt:      u.CreatedAt,
	}
}

// SocialProvider identifies a federated identity provider
type SocialProvider string

const (
	SocialProviderGoogle  SocialProvider = "google"
	SocialProviderTwitter SocialProvider = "twitter"
	SocialProviderDiscord SocialProvider = "discord"
)

// SocialAccount links an external identity to a user
type SocialAccount struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"index;not null" json:"user_id"`
	User           User           `gorm:"foreignKey:UserID" json:"-"`
	Provider       SocialProvider `gorm:"type:varchar(20);uniqueIndex:idx_social_provider_account;not null" json:"provider"`
	ProviderUserID string         `gorm:"type:varchar(255);uniqueIndex:idx_social_provider_account;not null" json:"provider_user_id"`
	Username       string         `gorm:"type:varchar(255)" json:"username"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
