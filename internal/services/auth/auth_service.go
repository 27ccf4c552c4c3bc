// Package auth issues access tokens for every supported sign-in method:
// email and password, emailed one-time codes, OAuth providers and
// Sign-In with Ethereum.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// Mailer delivers login codes
type Mailer interface {
	SendLoginCode(toEmail, code string, ttl time.Duration) error
}

// Service authenticates users and issues tokens
type Service struct {
	db        *gorm.DB
	rdb       redis.UniversalClient
	tokens    *utils.TokenManager
	mailer    Mailer
	otp       config.OTPConfig
	siwe      config.SIWEConfig
	providers map[models.SocialProvider]*Provider

	now func() time.Time
}

// NewService wires the auth service. Providers without a client id are
// left out.
func NewService(db *gorm.DB, rdb redis.UniversalClient, tokens *utils.TokenManager, mailer Mailer, cfg *config.Config) *Service {
	return &Service{
		db:        db,
		rdb:       rdb,
		tokens:    tokens,
		mailer:    mailer,
		otp:       cfg.OTP,
		siwe:      cfg.SIWE,
		providers: NewProviders(cfg.OAuth),
		now:       time.Now,
	}
}

// AuthResponse is returned by every successful sign-in
type AuthResponse struct {
	User      models.User     `json:"user"`
	Token     utils.TokenPair `json:"token"`
	IsNewUser bool            `json:"is_new_user"`
}

// RegisterRequest creates a password account
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name" binding:"omitempty,max=100"`
}

// Register creates a user with a password
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := utils.NormalizeEmail(req.Email)
	if !utils.IsValidEmail(email) {
		return nil, apperror.BadRequest("invalid email")
	}
	if len(req.Password) < minPasswordLength {
		return nil, apperror.BadRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, apperror.Internal("failed to check email", err)
	}
	if existing > 0 {
		return nil, apperror.Conflict("email already registered")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, apperror.Internal("failed to process password", err)
	}

	user := models.User{
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: &hash,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(apperror.FromDB(err, ""), apperror.ErrConflict) {
			return nil, apperror.Conflict("email already registered")
		}
		return nil, apperror.Internal("failed to create user", err)
	}

	return s.issue(ctx, &user, true)
}

// LoginRequest signs in with a password
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks a password and issues a token
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", utils.NormalizeEmail(req.Email)).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Internal("failed to load user", err)
	}
	if err != nil || user.PasswordHash == nil || !utils.CheckPasswordHash(req.Password, *user.PasswordHash) {
		return nil, apperror.Unauthorized("invalid email or password")
	}

	return s.issue(ctx, &user, false)
}

// issue stamps the login time and signs a token for user
func (s *Service) issue(ctx context.Context, user *models.User, isNew bool) (*AuthResponse, error) {
	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(user).Update("last_login_at", now).Error; err != nil {
		return nil, apperror.Internal("failed to record login", err)
	}
	user.LastLoginAt = &now

	token, err := s.tokens.Generate(user.ID, user.Email)
	if err != nil {
		return nil, apperror.Internal("failed to issue token", err)
	}
	return &AuthResponse{User: *user, Token: token, IsNewUser: isNew}, nil
}

// findOrCreateByEmail returns the user owning email, creating one when there
// is none. verified marks the address as proven by the caller.
func findOrCreateByEmail(tx *gorm.DB, email, displayName string, verified bool) (*models.User, bool, error) {
	var user models.User
	err := tx.Where("email = ?", email).First(&user).Error
	if err == nil {
		if verified && !user.EmailVerified {
			if err := tx.Model(&user).Update("email_verified", true).Error; err != nil {
				return nil, false, apperror.Internal("failed to update user", err)
			}
			user.EmailVerified = true
		}
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperror.Internal("failed to load user", err)
	}

	user = models.User{Email: email, DisplayName: displayName, EmailVerified: verified}
	if err := tx.Create(&user).Error; err != nil {
		return nil, false, apperror.FromDB(err, "user not found")
	}
	return &user, true, nil
}
