package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/services/referral"
	"github.com/gemxhub/backend/internal/services/wallet"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gemxhub/backend/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier receives user events once they are durable
type Notifier interface {
	Notify(event string, data interface{})
}

// Service handles profiles, administrative user creation and daily logins
type Service struct {
	db       *gorm.DB
	wallets  *wallet.Service
	cfg      config.WalletConfig
	notifier Notifier
}

// NewService creates a new user service
func NewService(db *gorm.DB, wallets *wallet.Service, cfg config.WalletConfig, notifier Notifier) *Service {
	return &Service{db: db, wallets: wallets, cfg: cfg, notifier: notifier}
}

// GetProfile loads a user
func (s *Service) GetProfile(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, apperror.FromDB(err, "user not found")
	}
	return &user, nil
}

// UpdateProfileRequest holds editable profile fields
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name" binding:"omitempty,max=100"`
}

// UpdateProfile applies the non-nil fields of req
func (s *Service) UpdateProfile(ctx context.Context, userID uint, req UpdateProfileRequest) (*models.User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.DisplayName == nil {
		return user, nil
	}

	name := strings.TrimSpace(*req.DisplayName)
	if err := s.db.WithContext(ctx).Model(user).Update("display_name", name).Error; err != nil {
		return nil, apperror.FromDB(err, "user not found")
	}
	user.DisplayName = name
	return user, nil
}

// CreateUserInput is one item of an administrative batch create
type CreateUserInput struct {
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	WalletAddress string `json:"walletAddress"`
	ReferrerID    *uint  `json:"referrerId"`
}

// FailedUser is a batch item that was not created
type FailedUser struct {
	Input  CreateUserInput `json:"input"`
	Reason string          `json:"reason"`
}

// BatchCreateResult partitions a batch create by outcome
type BatchCreateResult struct {
	Created []models.User `json:"created"`
	Failed  []FailedUser  `json:"failed"`
}

// CreateUsersBatch creates each user independently. Referrers must already
// exist; a brand new user cannot close a referral loop.
func (s *Service) CreateUsersBatch(ctx context.Context, inputs []CreateUserInput) (*BatchCreateResult, error) {
	result := &BatchCreateResult{Created: []models.User{}, Failed: []FailedUser{}}
	if len(inputs) == 0 {
		return result, nil
	}

	emails := make([]string, 0, len(inputs))
	var referrerIDs []uint
	for _, in := range inputs {
		emails = append(emails, utils.NormalizeEmail(in.Email))
		if in.ReferrerID != nil {
			referrerIDs = append(referrerIDs, *in.ReferrerID)
		}
	}

	db := s.db.WithContext(ctx)
	var taken []string
	if err := db.Model(&models.User{}).Where("email IN ?", emails).Pluck("email", &taken).Error; err != nil {
		return nil, apperror.Internal("error checking emails", err)
	}
	takenEmails := make(map[string]bool, len(taken))
	for _, e := range taken {
		takenEmails[e] = true
	}

	knownReferrers := make(map[uint]bool)
	if len(referrerIDs) > 0 {
		var found []uint
		if err := db.Model(&models.User{}).Where("id IN ?", referrerIDs).Pluck("id", &found).Error; err != nil {
			return nil, apperror.Internal("error checking referrers", err)
		}
		for _, id := range found {
			knownReferrers[id] = true
		}
	}

	for i, in := range inputs {
		email := emails[i]
		fail := func(reason string) {
			result.Failed = append(result.Failed, FailedUser{Input: in, Reason: reason})
		}

		if !utils.IsValidEmail(email) {
			fail("invalid email")
			continue
		}
		if takenEmails[email] {
			fail("email already registered")
			continue
		}

		user := models.User{Email: email, DisplayName: strings.TrimSpace(in.DisplayName)}
		if in.WalletAddress != "" {
			if !common.IsHexAddress(in.WalletAddress) {
				fail("invalid wallet address")
				continue
			}
			address := strings.ToLower(common.HexToAddress(in.WalletAddress).Hex())
			user.WalletAddress = &address
		}
		if in.ReferrerID != nil {
			if !knownReferrers[*in.ReferrerID] {
				fail("referrer not found")
				continue
			}
			referrerID := *in.ReferrerID
			user.ReferrerID = &referrerID
		}

		if err := db.Create(&user).Error; err != nil {
			appErr := apperror.As(apperror.FromDB(err, "referrer not found"))
			switch appErr.Kind {
			case apperror.KindConflict:
				fail("email or wallet address already registered")
			case apperror.KindNotFound:
				fail("referrer not found")
			default:
				logger.Log.Error("failed to create user", zap.String("email", email), zap.Error(err))
				fail("internal error")
			}
			continue
		}

		takenEmails[email] = true
		result.Created = append(result.Created, user)
		if user.ReferrerID != nil && s.notifier != nil {
			s.notifier.Notify(referral.EventReferralCreated, referral.CreatedEvent{UserID: user.ID, ReferrerID: *user.ReferrerID})
		}
	}

	return result, nil
}

// DailyLoginResult reports the outcome of a daily login claim
type DailyLoginResult struct {
	Claimed        bool      `json:"claimed"`
	Reward         int64     `json:"reward"`
	Currency       string    `json:"currency"`
	LastDailyLogin time.Time `json:"last_daily_login"`
	NextClaimAt    time.Time `json:"next_claim_at"`
}

// DailyLogin records the first login of the UTC day and credits the reward.
// Later calls on the same day are no-ops.
func (s *Service) DailyLogin(ctx context.Context, userID uint) (*DailyLoginResult, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	today := utils.StartOfDayUTC(now)
	result := &DailyLoginResult{
		Currency:    s.cfg.DailyLoginCurrency,
		NextClaimAt: today.Add(24 * time.Hour),
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (last_daily_login IS NULL OR last_daily_login < ?)", userID, today).
		Update("last_daily_login", now)
	if res.Error != nil {
		return nil, apperror.Internal("error recording daily login", res.Error)
	}
	if res.RowsAffected == 0 {
		if user.LastDailyLogin != nil {
			result.LastDailyLogin = *user.LastDailyLogin
		}
		return result, nil
	}
	result.Claimed = true
	result.LastDailyLogin = now

	if s.cfg.DailyLoginReward <= 0 || s.wallets == nil {
		return result, nil
	}

	reference := fmt.Sprintf("daily-login:%d:%s", userID, today.Format("2006-01-02"))
	if err := s.creditDailyReward(ctx, userID, reference); err != nil {
		// reopen today's claim so the user can retry
		if reopenErr := s.reopenDailyLogin(ctx, userID, now, user.LastDailyLogin); reopenErr != nil {
			logger.Log.Error("failed to reopen daily login after reward failure",
				zap.Uint("user_id", userID),
				zap.Time("claimed_at", now),
				zap.NamedError("reward_error", err),
				zap.Error(reopenErr),
			)
		}
		return nil, err
	}
	result.Reward = s.cfg.DailyLoginReward
	return result, nil
}

// reopenDailyLogin restores previous as the last claim, provided the claim
// recorded at claimedAt is still the latest one
func (s *Service) reopenDailyLogin(ctx context.Context, userID uint, claimedAt time.Time, previous *time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND last_daily_login = ?", userID, claimedAt).
		Update("last_daily_login", previous).Error
}

func (s *Service) creditDailyReward(ctx context.Context, userID uint, reference string) error {
	existing, err := s.wallets.GetTransactionByReference(ctx, s.cfg.DailyLoginCurrency, models.TransactionTypeCredit, reference, &userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	_, err = s.wallets.Credit(ctx, wallet.CreditRequest{
		UserID:      userID,
		Currency:    s.cfg.DailyLoginCurrency,
		Amount:      s.cfg.DailyLoginReward,
		Description: "Daily login reward",
		ReferenceID: reference,
	})
	if err != nil {
		return fmt.Errorf("error crediting daily login reward: %w", err)
	}
	return nil
}
