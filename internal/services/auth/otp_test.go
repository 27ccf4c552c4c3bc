package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestOTPSignIn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, "New@Example.com"))
	code := f.mailer.code("new@example.com")
	require.Len(t, code, 6)
	assert.True(t, f.mr.Exists("otp:new@example.com"))

	_, err := f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "new@example.com", Code: wrongCode(code)})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	res, err := f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "NEW@example.com", Code: code})
	require.NoError(t, err)
	assert.True(t, res.IsNewUser)
	assert.True(t, res.User.EmailVerified)
	assert.NotEmpty(t, res.Token.AccessToken)

	_, err = f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "new@example.com", Code: code})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized, "codes are single use")
}

func TestOTPExistingUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	existing := models.User{Email: "old@example.com"}
	require.NoError(t, f.db.Create(&existing).Error)

	require.NoError(t, f.svc.RequestOTP(ctx, "old@example.com"))
	res, err := f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "old@example.com", Code: f.mailer.code("old@example.com")})
	require.NoError(t, err)
	assert.False(t, res.IsNewUser)
	assert.Equal(t, existing.ID, res.User.ID)

	var reloaded models.User
	require.NoError(t, f.db.First(&reloaded, existing.ID).Error)
	assert.True(t, reloaded.EmailVerified)
}

func TestOTPAttemptLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, "a@example.com"))
	code := f.mailer.code("a@example.com")

	for i := 0; i < 3; i++ {
		_, err := f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "a@example.com", Code: wrongCode(code)})
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	}
	_, err := f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "a@example.com", Code: code})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.False(t, f.mr.Exists("otp:a@example.com"), "challenge is dropped after too many attempts")

	require.NoError(t, f.svc.RequestOTP(ctx, "a@example.com"))
	_, err = f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "a@example.com", Code: f.mailer.code("a@example.com")})
	assert.NoError(t, err, "a new code resets the counter")
}

func TestOTPExpiry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, "late@example.com"))
	f.mr.FastForward(6 * time.Minute)

	_, err := f.svc.VerifyOTP(ctx, VerifyOTPRequest{Email: "late@example.com", Code: f.mailer.code("late@example.com")})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestRequestOTPValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.RequestOTP(ctx, "not-an-email"), apperror.ErrBadRequest)

	f.mailer.err = errors.New("smtp down")
	assert.ErrorIs(t, f.svc.RequestOTP(ctx, "x@example.com"), apperror.ErrInternal)
	assert.False(t, f.mr.Exists("otp:x@example.com"))
}
