package referral

import (
	"context"
	"errors"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventReferralCreated is emitted once a referrer assignment commits
const EventReferralCreated = "referral.created"

// MaxChainDepth bounds the ancestor walk. Longer chains are treated as an
// already existing loop and accepted.
const MaxChainDepth = 10000

// maxTxAttempts bounds how often an assignment runs when Postgres aborts it
// for a deadlock or serialization failure
const maxTxAttempts = 2

const (
	reasonUserNotFound     = "user not found"
	reasonReferrerNotFound = "referrer not found"
	reasonAlreadySet       = "referrer already set"
	reasonCircular         = "circular reference"
	reasonRetry            = "concurrent referral update, please retry"
)

// Notifier receives referral events once they are durable
type Notifier interface {
	Notify(event string, data interface{})
}

// CreatedEvent is the referral.created payload
type CreatedEvent struct {
	UserID     uint `json:"userId"`
	ReferrerID uint `json:"referrerId"`
}

// Service manages the referrer graph. Each user has at most one referrer,
// set once, and the graph never contains a cycle.
type Service struct {
	db       *gorm.DB
	notifier Notifier
}

// NewService creates a referral service. notifier may be nil.
func NewService(db *gorm.DB, notifier Notifier) *Service {
	return &Service{db: db, notifier: notifier}
}

// Pair asks for UserID's referrer to become ReferrerID
type Pair struct {
	UserID     uint `json:"userId" binding:"required"`
	ReferrerID uint `json:"referrerId" binding:"required"`
}

// FailedPair is a batch item that was not applied
type FailedPair struct {
	Pair   Pair   `json:"pair"`
	Reason string `json:"reason"`
}

// BatchResult partitions a batch by outcome
type BatchResult struct {
	Updated []Pair       `json:"updated"`
	Failed  []FailedPair `json:"failed"`
}

// Count is the referral summary of one user
type Count struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

type chainNode struct {
	ID         uint
	ReferrerID *uint
}

// GetReferralCode returns the user's shareable code
func (s *Service) GetReferralCode(userID uint) (string, error) {
	code, err := EncodeReferralCode(userID)
	if err != nil {
		return "", apperror.BadRequest(err.Error())
	}
	return code, nil
}

// SetReferrer assigns the owner of code as userID's referrer
func (s *Service) SetReferrer(ctx context.Context, userID uint, code string) (*models.User, error) {
	var user models.User
	var referrerID uint

	err := s.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, userID).Error; err != nil {
			return apperror.FromDB(err, reasonUserNotFound)
		}
		if user.ReferrerID != nil {
			return apperror.Conflict(reasonAlreadySet)
		}

		id, err := DecodeReferralCode(code)
		if err != nil {
			return apperror.BadRequest(err.Error())
		}
		referrerID = id

		if err := assign(tx, userID, referrerID); err != nil {
			return err
		}
		user.ReferrerID = &referrerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(userID, referrerID)
	return &user, nil
}

// SetReferrersBatch applies each pair independently. One failing pair never
// affects the others.
func (s *Service) SetReferrersBatch(ctx context.Context, pairs []Pair) (*BatchResult, error) {
	result := &BatchResult{Updated: []Pair{}, Failed: []FailedPair{}}
	if len(pairs) == 0 {
		return result, nil
	}

	ids := make([]uint, 0, len(pairs)*2)
	for _, p := range pairs {
		ids = append(ids, p.UserID, p.ReferrerID)
	}

	var nodes []chainNode
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("id", "referrer_id").
		Where("id IN ?", ids).
		Scan(&nodes).Error
	if err != nil {
		return nil, apperror.Internal("error loading users", err)
	}
	referrers := make(map[uint]*uint, len(nodes))
	for _, n := range nodes {
		referrers[n.ID] = n.ReferrerID
	}

	fail := func(p Pair, reason string) {
		result.Failed = append(result.Failed, FailedPair{Pair: p, Reason: reason})
	}

	for _, p := range pairs {
		current, userExists := referrers[p.UserID]
		if !userExists {
			fail(p, reasonUserNotFound)
			continue
		}
		if _, ok := referrers[p.ReferrerID]; !ok {
			fail(p, reasonReferrerNotFound)
			continue
		}
		if p.UserID == p.ReferrerID {
			fail(p, reasonCircular)
			continue
		}
		if current != nil {
			if *current == p.ReferrerID {
				result.Updated = append(result.Updated, p)
			} else {
				fail(p, reasonAlreadySet)
			}
			continue
		}

		err := s.transact(ctx, func(tx *gorm.DB) error {
			var locked chainNode
			if err := tx.Model(&models.User{}).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id", "referrer_id").
				Where("id = ?", p.UserID).
				Take(&locked).Error; err != nil {
				return apperror.FromDB(err, reasonUserNotFound)
			}
			if locked.ReferrerID != nil {
				return apperror.Conflict(reasonAlreadySet)
			}
			return assign(tx, p.UserID, p.ReferrerID)
		})
		if err != nil {
			appErr := apperror.As(err)
			if appErr.Kind == apperror.KindInternal {
				logger.Log.Error("failed to apply referrer",
					zap.Uint("user_id", p.UserID),
					zap.Uint("referrer_id", p.ReferrerID),
					zap.Error(err),
				)
				fail(p, "internal error")
				continue
			}
			fail(p, appErr.Message)
			continue
		}

		referrerID := p.ReferrerID
		referrers[p.UserID] = &referrerID
		result.Updated = append(result.Updated, p)
		s.notify(p.UserID, p.ReferrerID)
	}

	return result, nil
}

// GetReferrals lists users referred by userID, oldest first
func (s *Service) GetReferrals(ctx context.Context, userID uint) ([]models.PublicUser, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("referrer_id = ?", userID).Order("id ASC").Find(&users).Error; err != nil {
		return nil, apperror.Internal("error finding referrals", err)
	}

	referrals := make([]models.PublicUser, 0, len(users))
	for _, u := range users {
		referrals = append(referrals, u.Public())
	}
	return referrals, nil
}

// GetReferralsCount counts referrals; active ones have claimed a daily login
func (s *Service) GetReferralsCount(ctx context.Context, userID uint) (*Count, error) {
	var count Count
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.User{}).Where("referrer_id = ?", userID).Count(&count.Total).Error; err != nil {
		return nil, apperror.Internal("error counting referrals", err)
	}
	if err := db.Model(&models.User{}).
		Where("referrer_id = ? AND last_daily_login IS NOT NULL", userID).
		Count(&count.Active).Error; err != nil {
		return nil, apperror.Internal("error counting active referrals", err)
	}
	return &count, nil
}

// assign checks the chain above referrerID and writes the link. userID's
// row must already be locked by tx.
func assign(tx *gorm.DB, userID, referrerID uint) error {
	if err := checkNoCycle(tx, userID, referrerID); err != nil {
		return err
	}

	res := tx.Model(&models.User{}).
		Where("id = ? AND referrer_id IS NULL", userID).
		Update("referrer_id", referrerID)
	if res.Error != nil {
		return apperror.FromDB(res.Error, reasonReferrerNotFound)
	}
	if res.RowsAffected == 0 {
		return apperror.Conflict(reasonAlreadySet)
	}
	return nil
}

// checkNoCycle walks up from candidate, share-locking each row it visits so
// no ancestor can gain a referrer underneath the check. Reaching userID means
// the new link would close a loop.
func checkNoCycle(tx *gorm.DB, userID, candidate uint) error {
	if userID == candidate {
		return apperror.BadRequest(reasonCircular)
	}

	visited := make(map[uint]struct{})
	current := candidate
	for depth := 0; depth < MaxChainDepth; depth++ {
		if current == userID {
			return apperror.BadRequest(reasonCircular)
		}
		if _, seen := visited[current]; seen {
			return nil
		}
		visited[current] = struct{}{}

		var node chainNode
		err := tx.Model(&models.User{}).
			Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "referrer_id").
			Where("id = ?", current).
			Take(&node).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if current == candidate {
				return apperror.NotFound(reasonReferrerNotFound)
			}
			return nil
		}
		if err != nil {
			return apperror.Internal("error walking referral chain", err)
		}

		if node.ReferrerID == nil {
			return nil
		}
		current = *node.ReferrerID
	}

	logger.Log.Warn("referral chain exceeded max depth",
		zap.Uint("user_id", userID),
		zap.Uint("candidate", candidate),
		zap.Int("max_depth", MaxChainDepth),
	)
	return nil
}

// transact runs fn in a transaction. Opposite assignments racing on the
// same rows can deadlock; the loser is rolled back and run again, at which
// point it sees the winner's link.
func (s *Service) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if !apperror.IsTransient(err) {
			return err
		}
		logger.Log.Warn("referral assignment aborted by concurrent update",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return &apperror.AppError{Kind: apperror.KindConflict, Message: reasonRetry, Err: err}
}

func (s *Service) notify(userID, referrerID uint) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(EventReferralCreated, CreatedEvent{UserID: userID, ReferrerID: referrerID})
}
