package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/go-redis/redis/v8"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

var otpOpts = totp.ValidateOpts{
	Period:    30,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// otpChallenge is stored per email while a code is outstanding. The code is
// the TOTP of Secret at IssuedAt; Redis expiry bounds its lifetime.
type otpChallenge struct {
	Secret   string    `json:"secret"`
	IssuedAt time.Time `json:"issued_at"`
}

func otpKey(email string) string         { return "otp:" + email }
func otpAttemptsKey(email string) string { return "otp:attempts:" + email }

// RequestOTP emails a fresh login code, replacing any outstanding one
func (s *Service) RequestOTP(ctx context.Context, rawEmail string) error {
	email := utils.NormalizeEmail(rawEmail)
	if !utils.IsValidEmail(email) {
		return apperror.BadRequest("invalid email")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "GemxHub",
		AccountName: email,
		Period:      otpOpts.Period,
		Digits:      otpOpts.Digits,
		Algorithm:   otpOpts.Algorithm,
	})
	if err != nil {
		return apperror.Internal("failed to generate code", err)
	}

	challenge := otpChallenge{Secret: key.Secret(), IssuedAt: s.now().UTC()}
	code, err := totp.GenerateCodeCustom(challenge.Secret, challenge.IssuedAt, otpOpts)
	if err != nil {
		return apperror.Internal("failed to generate code", err)
	}

	raw, err := json.Marshal(challenge)
	if err != nil {
		return apperror.Internal("failed to store code", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, otpKey(email), raw, s.otp.TTL)
	pipe.Del(ctx, otpAttemptsKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		return apperror.Internal("failed to store code", err)
	}

	if err := s.mailer.SendLoginCode(email, code, s.otp.TTL); err != nil {
		s.rdb.Del(ctx, otpKey(email))
		return apperror.Internal("failed to send code", err)
	}
	return nil
}

// VerifyOTPRequest completes an emailed-code sign-in
type VerifyOTPRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// VerifyOTP consumes the code and signs the user in, creating the account
// on first use
func (s *Service) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*AuthResponse, error) {
	email := utils.NormalizeEmail(req.Email)

	raw, err := s.rdb.Get(ctx, otpKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.Unauthorized("code expired or not requested")
	}
	if err != nil {
		return nil, apperror.Internal("failed to load code", err)
	}

	attempts, err := s.rdb.Incr(ctx, otpAttemptsKey(email)).Result()
	if err != nil {
		return nil, apperror.Internal("failed to record attempt", err)
	}
	s.rdb.Expire(ctx, otpAttemptsKey(email), s.otp.TTL)
	if s.otp.MaxAttempts > 0 && attempts > int64(s.otp.MaxAttempts) {
		s.rdb.Del(ctx, otpKey(email), otpAttemptsKey(email))
		return nil, apperror.Unauthorized("too many attempts, request a new code")
	}

	var challenge otpChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, apperror.Internal("failed to decode code", err)
	}
	valid, err := totp.ValidateCustom(req.Code, challenge.Secret, challenge.IssuedAt, otpOpts)
	if err != nil || !valid {
		return nil, apperror.Unauthorized("invalid code")
	}

	// single use: only the caller that deletes the challenge proceeds
	deleted, err := s.rdb.Del(ctx, otpKey(email)).Result()
	if err != nil {
		return nil, apperror.Internal("failed to consume code", err)
	}
	if deleted == 0 {
		return nil, apperror.Unauthorized("code already used")
	}
	s.rdb.Del(ctx, otpAttemptsKey(email))

	var user *models.User
	var created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, created, err = findOrCreateByEmail(tx, email, "", true)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("otp sign-in: %w", err)
	}

	return s.issue(ctx, user, created)
}
