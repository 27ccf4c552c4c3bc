package user

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/services/referral"
	"github.com/gemxhub/backend/internal/services/wallet"
	"github.com/gemxhub/backend/internal/testutil"
	"github.com/gemxhub/backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func setup(t *testing.T) (*Service, *wallet.Service, *gorm.DB, *fakeNotifier) {
	t.Helper()
	db := testutil.NewTestDB(t)
	cfg := config.WalletConfig{
		Currencies:         config.ParseCurrencies("points:0,usdt:6"),
		DailyLoginReward:   10,
		DailyLoginCurrency: "points",
	}
	notifier := &fakeNotifier{}
	wallets := wallet.NewService(db, cfg, notifier)
	return NewService(db, wallets, cfg, notifier), wallets, db, notifier
}

func TestCreateUsersBatch(t *testing.T) {
	svc, _, db, notifier := setup(t)
	ctx := context.Background()

	existing := models.User{Email: "taken@example.com"}
	require.NoError(t, db.Create(&existing).Error)

	missing := uint(404)
	referrer := existing.ID
	result, err := svc.CreateUsersBatch(ctx, []CreateUserInput{
		{Email: "New@Example.com", DisplayName: " New "},
		{Email: "new@example.com"},
		{Email: "taken@example.com"},
		{Email: "not-an-email"},
		{Email: "ref@example.com", ReferrerID: &referrer},
		{Email: "orphan@example.com", ReferrerID: &missing},
		{Email: "wallet@example.com", WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7"},
		{Email: "badwallet@example.com", WalletAddress: "0x123"},
	})
	require.NoError(t, err)

	require.Len(t, result.Created, 3)
	assert.Equal(t, "new@example.com", result.Created[0].Email)
	assert.Equal(t, "New", result.Created[0].DisplayName)
	require.NotNil(t, result.Created[1].ReferrerID)
	assert.Equal(t, referrer, *result.Created[1].ReferrerID)
	require.NotNil(t, result.Created[2].WalletAddress)
	assert.Equal(t, "0x52908400098527886e0f7030069857d2e4169ee7", *result.Created[2].WalletAddress)

	reasons := map[string]string{}
	for _, f := range result.Failed {
		reasons[f.Input.Email] = f.Reason
	}
	assert.Equal(t, map[string]string{
		"new@example.com":       "email already registered",
		"taken@example.com":     "email already registered",
		"not-an-email":          "invalid email",
		"orphan@example.com":    "referrer not found",
		"badwallet@example.com": "invalid wallet address",
	}, reasons)

	assert.Equal(t, []string{referral.EventReferralCreated}, notifier.events)
}

func TestDailyLoginCreditsOncePerDay(t *testing.T) {
	svc, wallets, db, _ := setup(t)
	ctx := context.Background()

	u := models.User{Email: "daily@example.com"}
	require.NoError(t, db.Create(&u).Error)

	first, err := svc.DailyLogin(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, first.Claimed)
	assert.Equal(t, int64(10), first.Reward)
	assert.Equal(t, "points", first.Currency)

	second, err := svc.DailyLogin(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, second.Claimed)
	assert.Zero(t, second.Reward)

	balances, err := wallets.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balances["points"])

	reference := fmt.Sprintf("daily-login:%d:%s", u.ID, time.Now().UTC().Format("2006-01-02"))
	entry, err := wallets.GetTransactionByReference(ctx, "points", models.TransactionTypeCredit, reference, &u.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Nil(t, entry.InternalNotes)
}

// failLedgerWrites makes every wallet transaction insert fail. Once one has
// failed, user updates fail too when failUserUpdates is set.
func failLedgerWrites(t *testing.T, db *gorm.DB, failUserUpdates bool) {
	t.Helper()
	ledgerFailed := false
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_ledger", func(tx *gorm.DB) {
		if tx.Statement.Table == "wallet_transactions" {
			ledgerFailed = true
			tx.AddError(errors.New("ledger unavailable"))
		}
	}))
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_users", func(tx *gorm.DB) {
		if failUserUpdates && ledgerFailed && tx.Statement.Table == "users" {
			tx.AddError(errors.New("users unavailable"))
		}
	}))
}

func TestDailyLoginReopensClaimWhenRewardFails(t *testing.T) {
	svc, _, db, _ := setup(t)
	ctx := context.Background()

	u := models.User{Email: "daily@example.com"}
	require.NoError(t, db.Create(&u).Error)
	failLedgerWrites(t, db, false)

	_, err := svc.DailyLogin(ctx, u.ID)
	require.Error(t, err)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, u.ID).Error)
	assert.Nil(t, reloaded.LastDailyLogin)
}

func TestDailyLoginLogsFailedReopen(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	previous := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = previous })

	svc, _, db, _ := setup(t)
	ctx := context.Background()

	u := models.User{Email: "daily@example.com"}
	require.NoError(t, db.Create(&u).Error)
	failLedgerWrites(t, db, true)

	_, err := svc.DailyLogin(ctx, u.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unavailable")

	entries := logs.FilterMessage("failed to reopen daily login after reward failure").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, uint64(u.ID), fields["user_id"])
	assert.Contains(t, fields["error"], "users unavailable")
	assert.Contains(t, fields["reward_error"], "ledger unavailable")
}

func TestDailyLoginAfterYesterday(t *testing.T) {
	svc, wallets, db, _ := setup(t)
	ctx := context.Background()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	u := models.User{Email: "daily@example.com", LastDailyLogin: &yesterday}
	require.NoError(t, db.Create(&u).Error)

	res, err := svc.DailyLogin(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, res.Claimed)

	balances, err := wallets.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balances["points"])
}

func TestDailyLoginUnknownUser(t *testing.T) {
	svc, _, _, _ := setup(t)

	_, err := svc.DailyLogin(context.Background(), 77)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	svc, _, db, _ := setup(t)
	ctx := context.Background()

	u := models.User{Email: "p@example.com", DisplayName: "old"}
	require.NoError(t, db.Create(&u).Error)

	unchanged, err := svc.UpdateProfile(ctx, u.ID, UpdateProfileRequest{})
	require.NoError(t, err)
	assert.Equal(t, "old", unchanged.DisplayName)

	name := "  New Name "
	updated, err := svc.UpdateProfile(ctx, u.ID, UpdateProfileRequest{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.DisplayName)

	reloaded, err := svc.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", reloaded.DisplayName)

	_, err = svc.GetProfile(ctx, 999)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
